// Package economy implements the currency flows of the game on top of the
// ledger: competition entry fees and refunds, the daily bonus, prize
// settlement, admin adjustments and the sync with the upstream webapp.
package economy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fastprodman/gameledger/internal/config"
	"github.com/fastprodman/gameledger/internal/infra/logging"
	"github.com/fastprodman/gameledger/internal/repos/scores"
	"github.com/fastprodman/gameledger/internal/security"
	"github.com/fastprodman/gameledger/internal/services/audit"
	"github.com/fastprodman/gameledger/internal/services/ledger"
	"github.com/fastprodman/gameledger/internal/services/prizes"
	"github.com/fastprodman/gameledger/internal/webapp"
)

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrNotAdmin      = errors.New("admin role required")
	ErrNoUpstream    = errors.New("webapp economy not configured")
)

// Reference types stamped on ledger entries.
const (
	RefCompetitionEntry  = "competition_entry"
	RefCompetitionRefund = "competition_refund"
	RefDailyBonus        = "daily_bonus"
	RefPrizePayout       = "prize_payout"
	RefAdmin             = "admin"
	RefWebappSync        = "webapp_sync"
)

// Ledger is the part of ledger.Service the flows need.
type Ledger interface {
	Execute(ctx context.Context, req ledger.Request) (ledger.Result, error)
	Balance(ctx context.Context, userID uint64) (int64, error)
}

type Service struct {
	ledger     Ledger
	scores     scores.Scores
	prizes     prizes.Table
	upstream   webapp.Economy
	audit      audit.Recorder
	logger     *slog.Logger
	dailyBonus int64
	now        func() time.Time
}

// New wires the flows. upstream may be nil.
func New(
	l Ledger,
	repo scores.Scores,
	upstream webapp.Economy,
	rec audit.Recorder,
	logger *slog.Logger,
	cfg config.EconomyConfig,
) *Service {
	return &Service{
		ledger:     l,
		scores:     repo,
		prizes:     prizes.Default,
		upstream:   upstream,
		audit:      rec,
		logger:     logging.OrDiscard(logger),
		dailyBonus: cfg.DailyBonus,
		now:        time.Now,
	}
}

// EnterCompetition debits the entry fee. The derived key makes a retried
// entry on the same day a replay.
func (s *Service) EnterCompetition(ctx context.Context, sec security.Context, competitionID string, fee int64) (ledger.Result, error) {
	if fee <= 0 {
		return ledger.Result{}, ErrInvalidAmount
	}

	res, err := s.ledger.Execute(ctx, ledger.Request{
		Kind:          ledger.KindEntryFee,
		Amount:        -fee,
		ReferenceID:   competitionID,
		ReferenceType: RefCompetitionEntry,
		Security:      sec,
	})
	if err != nil {
		return ledger.Result{}, err
	}

	s.mirror(ctx, sec, ledger.KindEntryFee, -fee, res)

	return res, nil
}

// RefundEntry credits a previously paid entry fee back.
func (s *Service) RefundEntry(ctx context.Context, sec security.Context, competitionID string, fee int64) (ledger.Result, error) {
	if fee <= 0 {
		return ledger.Result{}, ErrInvalidAmount
	}

	res, err := s.ledger.Execute(ctx, ledger.Request{
		Kind:          ledger.KindRefund,
		Amount:        fee,
		ReferenceID:   competitionID,
		ReferenceType: RefCompetitionRefund,
		Security:      sec,
	})
	if err != nil {
		return ledger.Result{}, err
	}

	s.mirror(ctx, sec, ledger.KindRefund, fee, res)

	return res, nil
}

// ClaimDailyBonus credits the daily bonus at most once per UTC day.
func (s *Service) ClaimDailyBonus(ctx context.Context, sec security.Context) (ledger.Result, error) {
	if s.dailyBonus <= 0 {
		return ledger.Result{}, ErrInvalidAmount
	}

	day := s.now().UTC().Format(time.DateOnly)

	res, err := s.ledger.Execute(ctx, ledger.Request{
		Kind:          ledger.KindDailyBonus,
		Amount:        s.dailyBonus,
		ReferenceID:   day,
		ReferenceType: RefDailyBonus,
		Security:      sec,
	})
	if err != nil {
		return ledger.Result{}, err
	}

	s.mirror(ctx, sec, ledger.KindDailyBonus, s.dailyBonus, res)

	return res, nil
}

// AdminAdjust moves a player's balance by amount on an operator's behalf.
// key is optional; without it an identical adjustment on the same day is a
// replay.
func (s *Service) AdminAdjust(
	ctx context.Context,
	admin security.Context,
	userID uint64,
	amount int64,
	reason, key string,
) (ledger.Result, error) {
	if !admin.IsAdmin() {
		return ledger.Result{}, ErrNotAdmin
	}

	target := admin.ForUser(userID)

	res, err := s.ledger.Execute(ctx, ledger.Request{
		Kind:           ledger.KindAdminAdjustment,
		Amount:         amount,
		ReferenceID:    reason,
		ReferenceType:  RefAdmin,
		Security:       target,
		IdempotencyKey: key,
	})
	if err != nil {
		return ledger.Result{}, err
	}

	if !res.Duplicate {
		s.audit.Record(ctx, audit.Event{
			Type:     audit.EventAdminAdjustment,
			Severity: audit.SeverityInfo,
			Details: audit.Details{
				"admin_id":      admin.UserID,
				"amount":        amount,
				"reason":        reason,
				"entry_id":      res.EntryID,
				"balance_after": res.BalanceAfter,
			},
			Security: target,
		})
	}

	s.mirror(ctx, target, ledger.KindAdminAdjustment, amount, res)

	return res, nil
}

// SyncExternal books the difference between the upstream balance and the
// local one as an external_sync entry. The observed pair is the reference,
// so re-running a sync against the same upstream state is a replay.
func (s *Service) SyncExternal(ctx context.Context, sec security.Context) (ledger.Result, error) {
	if s.upstream == nil {
		return ledger.Result{}, ErrNoUpstream
	}

	remote, err := s.upstream.Balance(ctx, sec.UserID)
	if err != nil {
		s.upstreamFailed(ctx, sec, "balance", 0, "", err)
		return ledger.Result{}, err
	}

	local, err := s.ledger.Balance(ctx, sec.UserID)
	if err != nil {
		return ledger.Result{}, err
	}

	delta := remote - local
	if delta == 0 {
		return ledger.Result{BalanceBefore: local, BalanceAfter: local, Duplicate: true}, nil
	}

	return s.ledger.Execute(ctx, ledger.Request{
		Kind:          ledger.KindExternalSync,
		Amount:        delta,
		ReferenceID:   fmt.Sprintf("%d->%d", local, remote),
		ReferenceType: RefWebappSync,
		Security:      sec,
	})
}

// mirror forwards a committed local mutation to the upstream economy with the
// same idempotency key. Replays are forwarded too, so a client retry after a
// crash between the two calls heals the upstream side. A failure leaves the
// two balances apart; it is audited and left to reconciliation.
func (s *Service) mirror(ctx context.Context, sec security.Context, kind ledger.Kind, amount int64, res ledger.Result) {
	if s.upstream == nil {
		return
	}

	var err error

	op := "credit"
	if amount < 0 {
		op = "deduct"
		_, err = s.upstream.Deduct(ctx, sec.UserID, -amount, res.IdempotencyKey, string(kind))
	} else {
		_, err = s.upstream.Credit(ctx, sec.UserID, amount, res.IdempotencyKey, string(kind))
	}

	if err != nil {
		s.upstreamFailed(ctx, sec, op, amount, res.IdempotencyKey, err)
	}
}

func (s *Service) upstreamFailed(ctx context.Context, sec security.Context, op string, amount int64, key string, err error) {
	s.logger.Error("webapp sync failed",
		"user_id", sec.UserID,
		"operation", op,
		"amount", amount,
		"idempotency_key", key,
		"error", err,
	)

	s.audit.Record(ctx, audit.Event{
		Type:     audit.EventUpstreamSyncFailed,
		Severity: audit.SeverityCritical,
		Details: audit.Details{
			"operation":       op,
			"amount":          amount,
			"idempotency_key": key,
		},
		Security: sec,
	})
}
