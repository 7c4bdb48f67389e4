package users

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fastprodman/gameledger/internal/infra/pgtestutil"
	"github.com/fastprodman/gameledger/internal/repos/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsers_LockAndGetBalance_UsesRowLock(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance FROM users WHERE id = \\$1 FOR UPDATE").
		WithArgs(uint64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(75)))
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(uint64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)

	repo := New(db)

	got, err := repo.LockAndGetBalance(t.Context(), tx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(75), got)

	_, err = repo.LockAndGetBalance(t.Context(), tx, 5)
	require.ErrorIs(t, err, users.ErrUserNotFound)

	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A second locker waits for the first transaction and then sees its commit.
func TestUsers_LockAndGetBalance_Serializes(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	pgtestutil.SeedUser(t, db, 42, 200)

	repo := New(db)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	holder, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = holder.Rollback() }()

	_, err = repo.LockAndGetBalance(ctx, holder, 42)
	require.NoError(t, err)

	type read struct {
		balance int64
		err     error
	}
	waiter := make(chan read, 1)

	go func() {
		tx, e := db.BeginTx(ctx, nil)
		if e != nil {
			waiter <- read{err: e}
			return
		}
		defer func() { _ = tx.Rollback() }()

		b, e := repo.LockAndGetBalance(ctx, tx, 42)
		waiter <- read{balance: b, err: e}
	}()

	select {
	case r := <-waiter:
		t.Fatalf("second locker did not wait: %+v", r)
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, repo.SetBalance(ctx, holder, 42, 150))
	require.NoError(t, holder.Commit())

	select {
	case r := <-waiter:
		require.NoError(t, r.err)
		assert.Equal(t, int64(150), r.balance)
	case <-time.After(5 * time.Second):
		t.Fatal("second locker never acquired the row")
	}
}
