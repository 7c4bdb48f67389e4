package entries

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	ErrEntryNotFound = errors.New("ledger entry not found")
	ErrDuplicateKey  = errors.New("duplicate idempotency key")
)

// Entry is an immutable ledger row. BalanceAfter = BalanceBefore + Amount.
type Entry struct {
	ID                int64
	UserID            uint64
	Kind              string
	Amount            int64
	BalanceBefore     int64
	BalanceAfter      int64
	ReferenceID       string
	ReferenceType     string
	IdempotencyKey    string
	ClientIP          string
	UserAgent         string
	DeviceFingerprint string
	CreatedAt         time.Time
}

// Totals pairs the stored balance with the sum of a player's entries.
type Totals struct {
	StoredBalance int64
	EntrySum      int64
	EntryCount    int64
}

type Entries interface {
	FindByKey(ctx context.Context, key string) (Entry, error)
	Insert(ctx context.Context, tx *sql.Tx, e Entry) (Entry, error)
	Totals(ctx context.Context, userID uint64) (Totals, error)
	ListForUser(ctx context.Context, userID uint64, limit int) ([]Entry, error)
}
