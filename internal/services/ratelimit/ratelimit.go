// Package ratelimit admits or rejects requests per (player, endpoint) with a
// fixed-window counter.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/fastprodman/gameledger/internal/config"
	"github.com/fastprodman/gameledger/internal/infra/logging"
	"github.com/fastprodman/gameledger/internal/repos/ratelimits"
)

// Endpoint names used as rule keys and counter keys.
const (
	EndpointCreateSession    = "create_session"
	EndpointSubmitScore      = "submit_score"
	EndpointEnterCompetition = "enter_competition"
	EndpointDailyBonus       = "daily_bonus"
	EndpointBalanceSync      = "balance_sync"
	EndpointAdmin            = "admin"
)

// Decision is the outcome of CheckAndConsume. RetryAfter is whole seconds,
// at least one, and only set when Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Limit      int
	Remaining  int
}

type Limiter struct {
	counters ratelimits.Counters
	def      config.RateRule
	rules    map[string]config.RateRule
	logger   *slog.Logger
	now      func() time.Time
}

func New(counters ratelimits.Counters, rules *config.Rules, logger *slog.Logger) *Limiter {
	l := &Limiter{
		counters: counters,
		def:      config.RateRule{MaxRequests: 30, Window: time.Minute},
		rules:    map[string]config.RateRule{},
		logger:   logging.OrDiscard(logger),
		now:      time.Now,
	}

	if rules != nil {
		l.def = rules.RateLimits.Default
		for name, rr := range rules.RateLimits.Endpoints {
			l.rules[name] = rr
		}
	}

	return l
}

// Rule returns the budget that applies to endpoint.
func (l *Limiter) Rule(endpoint string) config.RateRule {
	rr, ok := l.rules[endpoint]
	if !ok {
		return l.def
	}

	return rr
}

// CheckAndConsume counts one request. A storage failure admits the request:
// gameplay availability wins over throttling strictness.
func (l *Limiter) CheckAndConsume(ctx context.Context, userID uint64, endpoint string) Decision {
	rule := l.Rule(endpoint)
	now := l.now()

	out, err := l.counters.Hit(ctx, userID, endpoint, rule.MaxRequests, rule.Window, now)
	if err != nil {
		l.logger.Warn("rate limiter failing open",
			"user_id", userID,
			"endpoint", endpoint,
			"error", err,
		)

		return Decision{Allowed: true, Limit: rule.MaxRequests, Remaining: rule.MaxRequests}
	}

	d := Decision{
		Allowed:   out.Allowed,
		Limit:     rule.MaxRequests,
		Remaining: max(rule.MaxRequests-out.Count, 0),
	}

	if !out.Allowed {
		d.RetryAfter = retryAfter(out.ResetAt.Sub(now))
	}

	return d
}

// retryAfter rounds left up to whole seconds, minimum one.
func retryAfter(left time.Duration) time.Duration {
	secs := (left + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}

	return secs * time.Second
}
