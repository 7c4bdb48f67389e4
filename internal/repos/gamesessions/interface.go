package gamesessions

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrSessionNotFound = errors.New("game session not found")

// Session is a stored game session token. Optional columns use zero values:
// empty strings, zero PeriodDate, zero ScoreRateCap (no plausibility bound).
type Session struct {
	Token         string
	UserID        uint64
	GameType      string
	CompetitionID string
	Period        string
	PeriodDate    time.Time
	ScoreRateCap  float64
	IssuedAt      time.Time
	ExpiresAt     time.Time
	// Set together, exactly once.
	ConsumedAt *time.Time
	Score      *int64
	IsValid    *bool
}

func (s Session) Consumed() bool {
	return s.ConsumedAt != nil
}

type GameSessions interface {
	Create(ctx context.Context, s Session) error
	LockByToken(ctx context.Context, tx *sql.Tx, token string) (Session, error)
	// MarkConsumed fails with ErrSessionNotFound when the token is absent or
	// already consumed.
	MarkConsumed(ctx context.Context, tx *sql.Tx, token string, at time.Time, score int64, valid bool) error
}
