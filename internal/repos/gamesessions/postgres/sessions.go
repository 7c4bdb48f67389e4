package gamesessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/gameledger/internal/repos/gamesessions"
)

var _ gamesessions.GameSessions = (*sessionsRepo)(nil)

type sessionsRepo struct{ db *sql.DB }

func New(db *sql.DB) *sessionsRepo {
	return &sessionsRepo{db: db}
}

func (r *sessionsRepo) Create(ctx context.Context, s gamesessions.Session) error {
	var (
		periodDate sql.NullTime
		rateCap    sql.NullFloat64
	)
	if !s.PeriodDate.IsZero() {
		periodDate = sql.NullTime{Time: s.PeriodDate, Valid: true}
	}
	if s.ScoreRateCap > 0 {
		rateCap = sql.NullFloat64{Float64: s.ScoreRateCap, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO game_sessions (
			token, user_id, game_type, competition_id, period, period_date,
			score_rate_cap, issued_at, expires_at
		)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9)
	`, s.Token, s.UserID, s.GameType, s.CompetitionID, s.Period, periodDate,
		rateCap, s.IssuedAt, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert game session: %w", err)
	}

	return nil
}

// LockByToken reads the session and holds its row lock until tx ends, so a
// token submitted twice in parallel is consumed once.
func (r *sessionsRepo) LockByToken(ctx context.Context, tx *sql.Tx, token string) (gamesessions.Session, error) {
	var (
		s          gamesessions.Session
		periodDate sql.NullTime
		rateCap    sql.NullFloat64
		consumedAt sql.NullTime
		score      sql.NullInt64
		isValid    sql.NullBool
	)

	err := tx.QueryRowContext(ctx, `
		SELECT token, user_id, game_type, COALESCE(competition_id, ''), COALESCE(period, ''),
			period_date, score_rate_cap, issued_at, expires_at, consumed_at, score, is_valid
		FROM game_sessions
		WHERE token = $1
		FOR UPDATE
	`, token).Scan(
		&s.Token, &s.UserID, &s.GameType, &s.CompetitionID, &s.Period,
		&periodDate, &rateCap, &s.IssuedAt, &s.ExpiresAt, &consumedAt, &score, &isValid,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return gamesessions.Session{}, gamesessions.ErrSessionNotFound
		}

		return gamesessions.Session{}, fmt.Errorf("lock game session: %w", err)
	}

	if periodDate.Valid {
		s.PeriodDate = periodDate.Time
	}
	if rateCap.Valid {
		s.ScoreRateCap = rateCap.Float64
	}
	if consumedAt.Valid {
		s.ConsumedAt = &consumedAt.Time
	}
	if score.Valid {
		s.Score = &score.Int64
	}
	if isValid.Valid {
		s.IsValid = &isValid.Bool
	}

	return s, nil
}

func (r *sessionsRepo) MarkConsumed(ctx context.Context, tx *sql.Tx, token string, at time.Time, score int64, valid bool) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE game_sessions
		SET consumed_at = $2, score = $3, is_valid = $4
		WHERE token = $1 AND consumed_at IS NULL
	`, token, at, score, valid)
	if err != nil {
		return fmt.Errorf("consume game session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return gamesessions.ErrSessionNotFound
	}

	return nil
}
