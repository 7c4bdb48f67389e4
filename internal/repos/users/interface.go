package users

import (
	"context"
	"database/sql"
	"errors"
)

var ErrUserNotFound = errors.New("user not found")

// Users is the balance column of the player record. Only the ledger writes it.
type Users interface {
	GetBalance(ctx context.Context, userID uint64) (int64, error)
	LockAndGetBalance(ctx context.Context, tx *sql.Tx, userID uint64) (int64, error)
	SetBalance(ctx context.Context, tx *sql.Tx, userID uint64, balance int64) error
}
