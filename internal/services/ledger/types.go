package ledger

import (
	"errors"
	"fmt"

	"github.com/fastprodman/gameledger/internal/security"
)

// Kind is the closed set of reasons a balance may change.
type Kind string

const (
	KindEntryFee        Kind = "entry_fee"
	KindPrizePayout     Kind = "prize_payout"
	KindDailyBonus      Kind = "daily_bonus"
	KindRefund          Kind = "refund"
	KindAdminAdjustment Kind = "admin_adjustment"
	KindExternalSync    Kind = "external_sync"
)

func (k Kind) Valid() bool {
	switch k {
	case KindEntryFee, KindPrizePayout, KindDailyBonus, KindRefund, KindAdminAdjustment, KindExternalSync:
		return true
	default:
		return false
	}
}

// Validate returns ErrUnknownKind for anything outside the closed set.
func Validate(k Kind) error {
	if !k.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}

	return nil
}

// Request describes one balance mutation. Amount is signed minor units:
// positive credits, negative debits. Security.UserID is the account mutated.
type Request struct {
	Kind          Kind
	Amount        int64
	ReferenceID   string
	ReferenceType string
	Security      security.Context
	// IdempotencyKey is optional; when empty it is derived from
	// (user, kind, reference, amount, UTC day).
	IdempotencyKey string
}

type Result struct {
	EntryID        int64  `json:"entryId"`
	BalanceBefore  int64  `json:"balanceBefore"`
	BalanceAfter   int64  `json:"balanceAfter"`
	IdempotencyKey string `json:"idempotencyKey"`
	// Duplicate is set when the key had already been applied; nothing changed.
	Duplicate bool `json:"duplicate"`
}

// Report is the outcome of a reconciliation.
type Report struct {
	UserID            uint64 `json:"userId"`
	StoredBalance     int64  `json:"storedBalance"`
	CalculatedBalance int64  `json:"calculatedBalance"`
	EntryCount        int64  `json:"entryCount"`
	IsConsistent      bool   `json:"isConsistent"`
}

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUserNotFound        = errors.New("user not found")
	ErrUnknownKind         = errors.New("unknown transaction kind")
	ErrInvalidAmount       = errors.New("invalid amount")
	// ErrIdempotencyConflict means the key was already used for a different
	// user, kind or amount.
	ErrIdempotencyConflict = errors.New("idempotency key reused for a different transaction")
	// ErrLockTimeout is retryable: the statement had no effect.
	ErrLockTimeout = errors.New("balance lock not acquired in time")
	ErrStorage     = errors.New("ledger storage failure")
)
