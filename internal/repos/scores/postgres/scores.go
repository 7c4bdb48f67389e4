package scores

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fastprodman/gameledger/internal/repos/scores"
)

var _ scores.Scores = (*scoresRepo)(nil)

type scoresRepo struct{ db *sql.DB }

func New(db *sql.DB) *scoresRepo {
	return &scoresRepo{db: db}
}

func (r *scoresRepo) UpsertBest(ctx context.Context, s scores.Score) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO competition_scores (
			competition_id, period, period_date, user_id, score, session_token, achieved_at
		)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		ON CONFLICT (competition_id, period, period_date, user_id) DO UPDATE
		SET score = EXCLUDED.score,
			session_token = EXCLUDED.session_token,
			achieved_at = EXCLUDED.achieved_at
		WHERE competition_scores.score < EXCLUDED.score
	`, s.CompetitionID, s.Period, s.PeriodDate, s.UserID, s.Score, s.SessionToken, s.AchievedAt)
	if err != nil {
		return false, fmt.Errorf("upsert score: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected > 0, nil
}

func (r *scoresRepo) Ranking(
	ctx context.Context,
	competitionID, period string,
	periodDate time.Time,
	limit int,
) ([]scores.Score, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT competition_id, period, period_date, user_id, score,
			COALESCE(session_token, ''), achieved_at
		FROM competition_scores
		WHERE competition_id = $1 AND period = $2 AND period_date = $3
		ORDER BY score DESC, achieved_at ASC, user_id ASC
		LIMIT $4
	`, competitionID, period, periodDate, limit)
	if err != nil {
		return nil, fmt.Errorf("query ranking: %w", err)
	}
	defer rows.Close()

	var out []scores.Score
	for rows.Next() {
		var s scores.Score

		err = rows.Scan(&s.CompetitionID, &s.Period, &s.PeriodDate, &s.UserID, &s.Score, &s.SessionToken, &s.AchievedAt)
		if err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}

		out = append(out, s)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate ranking: %w", err)
	}

	return out, nil
}
