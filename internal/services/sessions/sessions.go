// Package sessions issues and consumes single-use game session tokens.
//
// A token binds (player, game, competition period) to a time window and a
// maximum plausible score. The period bound into the token is the only
// trusted source of "this submission is ranked".
package sessions

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fastprodman/gameledger/internal/config"
	"github.com/fastprodman/gameledger/internal/infra/logging"
	"github.com/fastprodman/gameledger/internal/infra/pgutils"
	"github.com/fastprodman/gameledger/internal/repos/gamesessions"
	pgsessions "github.com/fastprodman/gameledger/internal/repos/gamesessions/postgres"
	"github.com/fastprodman/gameledger/internal/security"
	"github.com/fastprodman/gameledger/internal/services/audit"
)

var (
	ErrInvalidSession     = errors.New("invalid game session")
	ErrSessionAlreadyUsed = errors.New("game session already used")
	ErrSessionExpired     = errors.New("game session expired")
	ErrImplausibleScore   = errors.New("implausible score")
	ErrUnknownGame        = errors.New("unknown game type")
	ErrStorage            = errors.New("session storage failure")
)

const tokenBytes = 32

type CreateParams struct {
	GameType      string
	CompetitionID string
	Period        string
	PeriodDate    time.Time
	// Security.UserID owns the session.
	Security security.Context
}

type Issued struct {
	Token     string    `json:"sessionToken"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Session is a consumed, accepted session.
type Session struct {
	Token         string
	UserID        uint64
	GameType      string
	CompetitionID string
	Period        string
	PeriodDate    time.Time
	IssuedAt      time.Time
	ConsumedAt    time.Time
	Score         int64
}

// Ranked reports whether the score counts for a money-bearing competition.
func (s Session) Ranked() bool {
	return s.Period != ""
}

type Manager struct {
	db       *sql.DB
	sessions gamesessions.GameSessions
	audit    audit.Recorder
	logger   *slog.Logger
	games    map[string]config.GameRule
	expiry   time.Duration
	now      func() time.Time
}

func New(db *sql.DB, rec audit.Recorder, logger *slog.Logger, cfg config.SessionConfig, rules *config.Rules) *Manager {
	m := &Manager{
		db:       db,
		sessions: pgsessions.New(db),
		audit:    rec,
		logger:   logging.OrDiscard(logger),
		games:    map[string]config.GameRule{},
		expiry:   cfg.Expiry,
		now:      time.Now,
	}
	if m.expiry <= 0 {
		m.expiry = 10 * time.Minute
	}
	if rules != nil {
		for name, g := range rules.Games {
			m.games[name] = g
		}
	}

	return m
}

// Create issues a token for a game about to start. The game's score rate cap
// is copied into the session so later rule changes do not affect it.
func (m *Manager) Create(ctx context.Context, p CreateParams) (Issued, error) {
	game, ok := m.games[p.GameType]
	if !ok {
		return Issued{}, fmt.Errorf("%w: %q", ErrUnknownGame, p.GameType)
	}

	token, err := newToken()
	if err != nil {
		return Issued{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	competitionID := p.CompetitionID
	if competitionID == "" && p.Period != "" {
		competitionID = p.GameType + "_" + p.Period
	}

	now := m.now().UTC()
	s := gamesessions.Session{
		Token:         token,
		UserID:        p.Security.UserID,
		GameType:      p.GameType,
		CompetitionID: competitionID,
		Period:        p.Period,
		PeriodDate:    p.PeriodDate,
		ScoreRateCap:  game.ScoreRateCap,
		IssuedAt:      now,
		ExpiresAt:     now.Add(m.expiry),
	}
	if s.Period != "" && s.PeriodDate.IsZero() {
		s.PeriodDate = now.Truncate(24 * time.Hour)
	}

	err = m.sessions.Create(ctx, s)
	if err != nil {
		m.logger.Error("create game session", "user_id", s.UserID, "error", err)
		return Issued{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	m.audit.Record(ctx, audit.Event{
		Type:     audit.EventSessionCreated,
		Severity: audit.SeverityInfo,
		Details: audit.Details{
			"game_type":      s.GameType,
			"competition_id": s.CompetitionID,
			"period":         s.Period,
			"expires_at":     s.ExpiresAt,
		},
		Security: p.Security,
	})

	return Issued{Token: token, ExpiresAt: s.ExpiresAt}, nil
}

// ValidateAndConsume is the anti-cheat gate for a score submission:
//
// 1) Unknown token or another player's token -> ErrInvalidSession.
// 2) Already consumed -> ErrSessionAlreadyUsed.
// 3) Past expiry -> ErrSessionExpired.
// 4) score > ceil(elapsed seconds * rate cap) -> ErrImplausibleScore; the
// token is burned.
// 5) Otherwise the token is consumed with the score.
//
// Every failure is terminal for the submission. Branches 1-3 leave the token
// untouched.
func (m *Manager) ValidateAndConsume(ctx context.Context, token string, sec security.Context, score int64) (Session, error) {
	var (
		accepted Session
		verdict  error
		event    *audit.Event
	)

	err := pgutils.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		s, err := m.sessions.LockByToken(ctx, tx, token)
		if err != nil {
			if errors.Is(err, gamesessions.ErrSessionNotFound) {
				verdict = ErrInvalidSession
				event = m.event(audit.EventSessionInvalid, audit.SeverityWarning, sec, audit.Details{
					"reason": "not_found",
				})
				return nil
			}

			return err
		}

		if s.UserID != sec.UserID {
			verdict = ErrInvalidSession
			event = m.event(audit.EventSessionInvalid, audit.SeverityWarning, sec, audit.Details{
				"reason":         "owner_mismatch",
				"token_owner_id": s.UserID,
				"game_type":      s.GameType,
			})
			return nil
		}

		if s.Consumed() {
			verdict = ErrSessionAlreadyUsed
			event = m.event(audit.EventSessionReplay, audit.SeverityWarning, sec, audit.Details{
				"game_type":   s.GameType,
				"consumed_at": *s.ConsumedAt,
				"score":       score,
			})
			return nil
		}

		now := m.now().UTC()
		if now.After(s.ExpiresAt) {
			verdict = ErrSessionExpired
			event = m.event(audit.EventSessionExpired, audit.SeverityWarning, sec, audit.Details{
				"game_type":  s.GameType,
				"expires_at": s.ExpiresAt,
			})
			return nil
		}

		elapsed := now.Sub(s.IssuedAt).Seconds()
		ceiling, bounded := maxPlausibleScore(elapsed, s.ScoreRateCap)
		if score < 0 || (bounded && score > ceiling) {
			err = m.sessions.MarkConsumed(ctx, tx, s.Token, now, score, false)
			if err != nil {
				return err
			}

			verdict = ErrImplausibleScore
			event = m.event(audit.EventImplausibleScore, audit.SeverityCritical, sec, audit.Details{
				"game_type":           s.GameType,
				"competition_id":      s.CompetitionID,
				"score":               score,
				"score_rate_cap":      s.ScoreRateCap,
				"elapsed_seconds":     elapsed,
				"max_plausible_score": ceiling,
			})
			return nil
		}

		err = m.sessions.MarkConsumed(ctx, tx, s.Token, now, score, true)
		if err != nil {
			return err
		}

		accepted = Session{
			Token:         s.Token,
			UserID:        s.UserID,
			GameType:      s.GameType,
			CompetitionID: s.CompetitionID,
			Period:        s.Period,
			PeriodDate:    s.PeriodDate,
			IssuedAt:      s.IssuedAt,
			ConsumedAt:    now,
			Score:         score,
		}
		return nil
	})
	if err != nil {
		m.logger.Error("validate game session", "user_id", sec.UserID, "error", err)
		return Session{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	if event != nil {
		m.audit.Record(ctx, *event)
	}

	if verdict != nil {
		m.logger.Info("game session rejected",
			"user_id", sec.UserID,
			"reason", verdict.Error(),
		)
		return Session{}, verdict
	}

	return accepted, nil
}

func (m *Manager) event(typ string, sev audit.Severity, sec security.Context, d audit.Details) *audit.Event {
	return &audit.Event{Type: typ, Severity: sev, Details: d, Security: sec}
}

// maxPlausibleScore returns ceil(elapsed * rateCap). A non-positive cap means
// the game has no bound.
func maxPlausibleScore(elapsedSeconds, rateCap float64) (int64, bool) {
	if rateCap <= 0 {
		return 0, false
	}
	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}

	return int64(math.Ceil(elapsedSeconds * rateCap)), true
}

func newToken() (string, error) {
	var b [tokenBytes]byte

	_, err := rand.Read(b[:])
	if err != nil {
		return "", fmt.Errorf("read random token: %w", err)
	}

	return hex.EncodeToString(b[:]), nil
}
