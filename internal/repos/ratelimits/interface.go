package ratelimits

import (
	"context"
	"time"
)

// Outcome is the state of one (user, endpoint) window after a hit.
type Outcome struct {
	Allowed bool
	// Count is the number of requests admitted in the current window.
	Count int
	// ResetAt is when the current window ends.
	ResetAt time.Time
}

// Counters owns the fixed-window request counters.
type Counters interface {
	// Hit counts one request against the window and reports whether it fits
	// in limit.
	Hit(ctx context.Context, userID uint64, endpoint string, limit int, window time.Duration, now time.Time) (Outcome, error)
}
