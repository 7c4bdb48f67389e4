package ratelimits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/gameledger/internal/infra/pgutils"
	"github.com/fastprodman/gameledger/internal/repos/ratelimits"
)

var _ ratelimits.Counters = (*countersRepo)(nil)

type countersRepo struct{ db *sql.DB }

func New(db *sql.DB) *countersRepo {
	return &countersRepo{db: db}
}

// Hit runs the fixed-window algorithm on the (user, endpoint) row while
// holding its lock:
//
// 1) No row -> create with count=1, allowed.
// 2) Window expired -> reset to count=1 at now, allowed.
// 3) count >= limit -> denied, row untouched.
// 4) Otherwise count+1, allowed.
func (r *countersRepo) Hit(
	ctx context.Context,
	userID uint64,
	endpoint string,
	limit int,
	window time.Duration,
	now time.Time,
) (ratelimits.Outcome, error) {
	var out ratelimits.Outcome

	err := pgutils.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var (
			count       int
			windowStart time.Time
		)

		err := tx.QueryRowContext(ctx, `
			SELECT request_count, window_start
			FROM rate_limits
			WHERE user_id = $1 AND endpoint = $2
			FOR UPDATE
		`, userID, endpoint).Scan(&count, &windowStart)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Two first requests may race here; the loser adds to the
			// winner's window instead of failing.
			err = tx.QueryRowContext(ctx, `
				INSERT INTO rate_limits (user_id, endpoint, request_count, window_start, last_request_at)
				VALUES ($1, $2, 1, $3, $3)
				ON CONFLICT (user_id, endpoint) DO UPDATE
				SET request_count = rate_limits.request_count + 1,
					last_request_at = EXCLUDED.last_request_at
				RETURNING request_count, window_start
			`, userID, endpoint, now).Scan(&count, &windowStart)
			if err != nil {
				return fmt.Errorf("create counter: %w", err)
			}

			out = ratelimits.Outcome{Allowed: count <= limit, Count: count, ResetAt: windowStart.Add(window)}
			return nil

		case err != nil:
			return fmt.Errorf("lock counter: %w", err)
		}

		if now.Sub(windowStart) >= window {
			_, err = tx.ExecContext(ctx, `
				UPDATE rate_limits
				SET request_count = 1, window_start = $3, last_request_at = $3
				WHERE user_id = $1 AND endpoint = $2
			`, userID, endpoint, now)
			if err != nil {
				return fmt.Errorf("reset counter: %w", err)
			}

			out = ratelimits.Outcome{Allowed: true, Count: 1, ResetAt: now.Add(window)}
			return nil
		}

		if count >= limit {
			out = ratelimits.Outcome{Allowed: false, Count: count, ResetAt: windowStart.Add(window)}
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE rate_limits
			SET request_count = request_count + 1, last_request_at = $3
			WHERE user_id = $1 AND endpoint = $2
		`, userID, endpoint, now)
		if err != nil {
			return fmt.Errorf("increment counter: %w", err)
		}

		out = ratelimits.Outcome{Allowed: true, Count: count + 1, ResetAt: windowStart.Add(window)}
		return nil
	})
	if err != nil {
		return ratelimits.Outcome{}, err
	}

	return out, nil
}
