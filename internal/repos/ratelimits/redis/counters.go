package ratelimits

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fastprodman/gameledger/internal/repos/ratelimits"
	"github.com/go-redis/redis/v8"
)

var _ ratelimits.Counters = (*countersRepo)(nil)

const keyPrefix = "ratelimit:"

type countersRepo struct{ rdb *redis.Client }

func New(rdb *redis.Client) *countersRepo {
	return &countersRepo{rdb: rdb}
}

func counterKey(userID uint64, endpoint string) string {
	return keyPrefix + strconv.FormatUint(userID, 10) + ":" + endpoint
}

// Hit implements the same fixed window with a self-expiring counter. The
// first INCR of a window arms the expiry; the key vanishing is the reset.
func (r *countersRepo) Hit(
	ctx context.Context,
	userID uint64,
	endpoint string,
	limit int,
	window time.Duration,
	now time.Time,
) (ratelimits.Outcome, error) {
	key := counterKey(userID, endpoint)

	n, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return ratelimits.Outcome{}, fmt.Errorf("incr %s: %w", key, err)
	}

	if n == 1 {
		err = r.rdb.PExpire(ctx, key, window).Err()
		if err != nil {
			return ratelimits.Outcome{}, fmt.Errorf("pexpire %s: %w", key, err)
		}

		return ratelimits.Outcome{Allowed: true, Count: 1, ResetAt: now.Add(window)}, nil
	}

	ttl, err := r.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return ratelimits.Outcome{}, fmt.Errorf("pttl %s: %w", key, err)
	}

	// A counter without expiry would block the player forever.
	if ttl < 0 {
		err = r.rdb.PExpire(ctx, key, window).Err()
		if err != nil {
			return ratelimits.Outcome{}, fmt.Errorf("pexpire %s: %w", key, err)
		}
		ttl = window
	}

	count := int(n)
	if count > limit {
		return ratelimits.Outcome{Allowed: false, Count: limit, ResetAt: now.Add(ttl)}, nil
	}

	return ratelimits.Outcome{Allowed: true, Count: count, ResetAt: now.Add(ttl)}, nil
}
