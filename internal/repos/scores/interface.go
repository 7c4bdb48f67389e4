package scores

import (
	"context"
	"time"
)

// Score is a player's best ranked result in one competition period.
type Score struct {
	CompetitionID string
	Period        string
	PeriodDate    time.Time
	UserID        uint64
	Score         int64
	SessionToken  string
	AchievedAt    time.Time
}

type Scores interface {
	// UpsertBest stores s unless the player already has a score at least as
	// high for the same period. It reports whether s was stored.
	UpsertBest(ctx context.Context, s Score) (bool, error)
	// Ranking returns the period's scores, best first. Ties go to the
	// earlier achiever.
	Ranking(ctx context.Context, competitionID, period string, periodDate time.Time, limit int) ([]Score, error)
}
