package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fastprodman/gameledger/internal/config"
	"github.com/fastprodman/gameledger/internal/infra/logging"
	"github.com/fastprodman/gameledger/internal/infra/pgutils"
	"github.com/fastprodman/gameledger/internal/repos/entries"
	pgentries "github.com/fastprodman/gameledger/internal/repos/entries/postgres"
	"github.com/fastprodman/gameledger/internal/repos/users"
	pgusers "github.com/fastprodman/gameledger/internal/repos/users/postgres"
	"github.com/fastprodman/gameledger/internal/services/audit"
)

// Service is the only writer of player balances and ledger entries.
type Service struct {
	db          *sql.DB
	users       users.Users
	entries     entries.Entries
	audit       audit.Recorder
	logger      *slog.Logger
	lockTimeout time.Duration
	now         func() time.Time
}

func New(db *sql.DB, rec audit.Recorder, logger *slog.Logger, cfg config.LedgerConfig) *Service {
	return &Service{
		db:          db,
		users:       pgusers.New(db),
		entries:     pgentries.New(db),
		audit:       rec,
		logger:      logging.OrDiscard(logger),
		lockTimeout: cfg.LockTimeout,
		now:         time.Now,
	}
}

// Execute applies req exactly once per idempotency key:
//
// 1) Replay: an entry with the key already exists -> return it, Duplicate=true.
// 2) Lock the player's row (FOR UPDATE).
// 3) Reject a negative result with ErrInsufficientBalance.
// 4) Write the new balance and insert the entry, then commit.
//
// A unique violation on the key at step 4 means a concurrent request with the
// same key won the race; its entry is returned as a replay.
func (s *Service) Execute(ctx context.Context, req Request) (Result, error) {
	err := validate(req)
	if err != nil {
		return Result{}, s.fail(ctx, req, "", err)
	}

	key := req.IdempotencyKey
	if key == "" {
		key = DeriveKey(req.Security.UserID, req.Kind, req.ReferenceID, req.Amount, s.now())
	}

	prev, err := s.entries.FindByKey(ctx, key)
	switch {
	case err == nil:
		return s.replay(ctx, req, prev)
	case !errors.Is(err, entries.ErrEntryNotFound):
		return Result{}, s.fail(ctx, req, key, err)
	}

	res, err := s.apply(ctx, req, key)
	if err != nil {
		if errors.Is(err, entries.ErrDuplicateKey) {
			prev, ferr := s.entries.FindByKey(ctx, key)
			if ferr == nil {
				return s.replay(ctx, req, prev)
			}

			err = ferr
		}

		return Result{}, s.fail(ctx, req, key, err)
	}

	s.logger.Debug("ledger entry committed",
		"user_id", req.Security.UserID,
		"kind", req.Kind,
		"amount", req.Amount,
		"entry_id", res.EntryID,
		"balance_after", res.BalanceAfter,
	)

	return res, nil
}

func (s *Service) apply(ctx context.Context, req Request, key string) (Result, error) {
	var res Result

	userID := req.Security.UserID

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		err := pgutils.SetLockTimeout(ctx, tx, s.lockTimeout)
		if err != nil {
			return err
		}

		balance, err := s.users.LockAndGetBalance(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("lock and get balance: %w", err)
		}

		newBalance := balance + req.Amount
		if req.Amount > 0 && newBalance < balance {
			return fmt.Errorf("%w: balance overflow", ErrInvalidAmount)
		}

		if newBalance < 0 {
			return ErrInsufficientBalance
		}

		err = s.users.SetBalance(ctx, tx, userID, newBalance)
		if err != nil {
			return fmt.Errorf("set balance: %w", err)
		}

		entry, err := s.entries.Insert(ctx, tx, entries.Entry{
			UserID:            userID,
			Kind:              string(req.Kind),
			Amount:            req.Amount,
			BalanceBefore:     balance,
			BalanceAfter:      newBalance,
			ReferenceID:       req.ReferenceID,
			ReferenceType:     req.ReferenceType,
			IdempotencyKey:    key,
			ClientIP:          req.Security.ClientIP,
			UserAgent:         req.Security.UserAgent,
			DeviceFingerprint: req.Security.DeviceFingerprint,
		})
		if err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}

		res = Result{
			EntryID:        entry.ID,
			BalanceBefore:  balance,
			BalanceAfter:   newBalance,
			IdempotencyKey: key,
		}

		return nil
	})

	return res, err
}

func (s *Service) replay(ctx context.Context, req Request, prev entries.Entry) (Result, error) {
	if prev.UserID != req.Security.UserID || prev.Kind != string(req.Kind) || prev.Amount != req.Amount {
		return Result{}, s.fail(ctx, req, prev.IdempotencyKey, ErrIdempotencyConflict)
	}

	s.logger.Info("ledger replay",
		"user_id", prev.UserID,
		"kind", prev.Kind,
		"entry_id", prev.ID,
	)

	return Result{
		EntryID:        prev.ID,
		BalanceBefore:  prev.BalanceBefore,
		BalanceAfter:   prev.BalanceAfter,
		IdempotencyKey: prev.IdempotencyKey,
		Duplicate:      true,
	}, nil
}

// Balance is an unlocked read of the stored balance.
func (s *Service) Balance(ctx context.Context, userID uint64) (int64, error) {
	balance, err := s.users.GetBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return 0, ErrUserNotFound
		}

		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	return balance, nil
}

// History returns the newest entries of a player.
func (s *Service) History(ctx context.Context, userID uint64, limit int) ([]entries.Entry, error) {
	switch {
	case limit <= 0:
		limit = 50
	case limit > 500:
		limit = 500
	}

	list, err := s.entries.ListForUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	return list, nil
}

func validate(req Request) error {
	err := Validate(req.Kind)
	if err != nil {
		return err
	}

	if req.Amount == 0 {
		return fmt.Errorf("%w: zero", ErrInvalidAmount)
	}

	if req.Security.UserID == 0 {
		return ErrUserNotFound
	}

	return nil
}

// fail records the failure on the audit trail and maps err onto the ledger's
// error taxonomy. Driver error text stays wrapped behind ErrStorage.
func (s *Service) fail(ctx context.Context, req Request, key string, err error) error {
	typed := classify(err)

	reason := ReasonCode(typed)

	s.audit.Record(ctx, audit.Event{
		Type:     audit.EventLedgerTransactionFailed,
		Severity: audit.SeverityWarning,
		Details: audit.Details{
			"kind":            req.Kind,
			"amount":          req.Amount,
			"reference_id":    req.ReferenceID,
			"reference_type":  req.ReferenceType,
			"idempotency_key": key,
			"reason":          reason,
		},
		Security: req.Security,
	})

	attrs := []any{
		"user_id", req.Security.UserID,
		"kind", req.Kind,
		"amount", req.Amount,
		"reason", reason,
	}

	switch {
	case errors.Is(typed, ErrStorage):
		s.logger.Error("ledger transaction failed", append(attrs, "error", err)...)
	case errors.Is(typed, ErrLockTimeout):
		s.logger.Warn("ledger transaction failed", append(attrs, "error", err)...)
	default:
		s.logger.Info("ledger transaction rejected", attrs...)
	}

	return fmt.Errorf("execute %s: %w", req.Kind, typed)
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrUnknownKind),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrIdempotencyConflict),
		errors.Is(err, ErrUserNotFound):
		return err
	case errors.Is(err, users.ErrUserNotFound):
		return ErrUserNotFound
	case pgutils.IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
}

// ReasonCode maps a ledger error onto the stable code used in audit details
// and client-facing results. Anything unrecognised is a storage_failure.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrIdempotencyConflict):
		return "idempotency_conflict"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout"
	default:
		return "storage_failure"
	}
}
