package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/gameledger/internal/repos/users"
)

var _ users.Users = (*usersRepo)(nil)

type usersRepo struct{ db *sql.DB }

func New(db *sql.DB) *usersRepo {
	return &usersRepo{db: db}
}

const (
	selectBalanceSQL = `SELECT balance FROM users WHERE id = $1`
	lockBalanceSQL   = selectBalanceSQL + ` FOR UPDATE`
)

// rowQuerier is satisfied by both *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readBalance(ctx context.Context, q rowQuerier, query string, userID uint64) (int64, error) {
	var balance int64

	err := q.QueryRowContext(ctx, query, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, users.ErrUserNotFound
	}

	return balance, err
}

// GetBalance is a plain read of the stored balance; it may be stale by the
// time the caller uses it.
func (r *usersRepo) GetBalance(ctx context.Context, userID uint64) (int64, error) {
	balance, err := readBalance(ctx, r.db, selectBalanceSQL, userID)
	if err != nil && !errors.Is(err, users.ErrUserNotFound) {
		return 0, fmt.Errorf("read balance of user %d: %w", userID, err)
	}

	return balance, err
}

// LockAndGetBalance reads the balance and holds the row lock until tx ends.
// Concurrent mutations of the same player queue up here.
func (r *usersRepo) LockAndGetBalance(ctx context.Context, tx *sql.Tx, userID uint64) (int64, error) {
	balance, err := readBalance(ctx, tx, lockBalanceSQL, userID)
	if err != nil && !errors.Is(err, users.ErrUserNotFound) {
		return 0, fmt.Errorf("lock balance of user %d: %w", userID, err)
	}

	return balance, err
}

// SetBalance writes the new balance. The users_balance_check constraint is the
// last line against a negative value.
func (r *usersRepo) SetBalance(ctx context.Context, tx *sql.Tx, userID uint64, balance int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET balance = $2, updated_at = now()
		WHERE id = $1
	`, userID, balance)
	if err != nil {
		return fmt.Errorf("set balance of user %d: %w", userID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return users.ErrUserNotFound
	}

	return nil
}
