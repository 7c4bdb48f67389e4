package ledger

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fastprodman/gameledger/internal/config"
	"github.com/fastprodman/gameledger/internal/security"
	"github.com/fastprodman/gameledger/internal/services/audit"
	"github.com/fastprodman/gameledger/internal/services/audit/audittest"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entryCols = []string{
	"id", "user_id", "kind", "amount", "balance_before", "balance_after",
	"reference_id", "reference_type", "idempotency_key",
	"client_ip", "user_agent", "device_fingerprint", "created_at",
}

const (
	findByKeySQL  = "FROM ledger_entries WHERE idempotency_key = \\$1"
	lockSQL       = "SELECT balance FROM users WHERE id = \\$1 FOR UPDATE"
	setBalanceSQL = "UPDATE users SET balance = \\$2"
	insertSQL     = "INSERT INTO ledger_entries"
)

func newMockService(t *testing.T, lockTimeout time.Duration) (*Service, sqlmock.Sqlmock, *audittest.Recorder) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rec := &audittest.Recorder{}
	svc := New(db, rec, nil, config.LedgerConfig{LockTimeout: lockTimeout})
	svc.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }

	return svc, mock, rec
}

func player(id uint64) security.Context {
	return security.Context{UserID: id, ClientIP: "10.0.0.1", UserAgent: "test"}
}

func TestExecute_Credit(t *testing.T) {
	t.Parallel()

	svc, mock, rec := newMockService(t, 2*time.Second)

	mock.ExpectQuery(findByKeySQL).WillReturnRows(sqlmock.NewRows(entryCols))
	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config\\('lock_timeout'").
		WithArgs("2000ms").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(lockSQL).WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(100)))
	mock.ExpectExec(setBalanceSQL).WithArgs(uint64(1), int64(150)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(insertSQL).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), time.Now()))
	mock.ExpectCommit()

	res, err := svc.Execute(t.Context(), Request{
		Kind:        KindDailyBonus,
		Amount:      50,
		ReferenceID: "2026-03-14",
		Security:    player(1),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(7), res.EntryID)
	assert.Equal(t, int64(100), res.BalanceBefore)
	assert.Equal(t, int64(150), res.BalanceAfter)
	assert.False(t, res.Duplicate)
	assert.Equal(t, DeriveKey(1, KindDailyBonus, "2026-03-14", 50, svc.now()), res.IdempotencyKey)
	assert.Empty(t, rec.Events())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_ReplayReturnsStoredEntry(t *testing.T) {
	t.Parallel()

	svc, mock, rec := newMockService(t, 0)

	mock.ExpectQuery(findByKeySQL).WithArgs("key-1").WillReturnRows(
		sqlmock.NewRows(entryCols).AddRow(
			int64(9), int64(1), "entry_fee", int64(-10), int64(100), int64(90),
			"cup", "competition_entry", "key-1", "", "", "", time.Now(),
		),
	)

	res, err := svc.Execute(t.Context(), Request{
		Kind:           KindEntryFee,
		Amount:         -10,
		ReferenceID:    "cup",
		Security:       player(1),
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(9), res.EntryID)
	assert.Equal(t, int64(90), res.BalanceAfter)
	assert.Empty(t, rec.Events())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		req        Request
		setup      func(mock sqlmock.Sqlmock)
		wantErr    error
		wantReason string
	}{
		{
			name:       "unknown_kind",
			req:        Request{Kind: "lottery", Amount: 5, Security: player(1)},
			wantErr:    ErrUnknownKind,
			wantReason: "unknown_kind",
		},
		{
			name:       "zero_amount",
			req:        Request{Kind: KindRefund, Amount: 0, Security: player(1)},
			wantErr:    ErrInvalidAmount,
			wantReason: "invalid_amount",
		},
		{
			name: "insufficient_balance",
			req:  Request{Kind: KindEntryFee, Amount: -200, ReferenceID: "cup", Security: player(1)},
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(findByKeySQL).WillReturnRows(sqlmock.NewRows(entryCols))
				mock.ExpectBegin()
				mock.ExpectQuery(lockSQL).
					WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(100)))
				mock.ExpectRollback()
			},
			wantErr:    ErrInsufficientBalance,
			wantReason: "insufficient_balance",
		},
		{
			name: "user_not_found",
			req:  Request{Kind: KindRefund, Amount: 10, Security: player(404)},
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(findByKeySQL).WillReturnRows(sqlmock.NewRows(entryCols))
				mock.ExpectBegin()
				mock.ExpectQuery(lockSQL).WillReturnError(sql.ErrNoRows)
				mock.ExpectRollback()
			},
			wantErr:    ErrUserNotFound,
			wantReason: "user_not_found",
		},
		{
			name: "lock_timeout",
			req:  Request{Kind: KindEntryFee, Amount: -10, Security: player(1)},
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(findByKeySQL).WillReturnRows(sqlmock.NewRows(entryCols))
				mock.ExpectBegin()
				mock.ExpectQuery(lockSQL).WillReturnError(&pgconn.PgError{Code: "55P03"})
				mock.ExpectRollback()
			},
			wantErr:    ErrLockTimeout,
			wantReason: "lock_timeout",
		},
		{
			name: "storage_failure_on_lookup",
			req:  Request{Kind: KindRefund, Amount: 10, Security: player(1)},
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(findByKeySQL).WillReturnError(errors.New("connection reset by peer"))
			},
			wantErr:    ErrStorage,
			wantReason: "storage_failure",
		},
		{
			name: "key_reused_by_other_user",
			req:  Request{Kind: KindRefund, Amount: 10, Security: player(2), IdempotencyKey: "shared"},
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(findByKeySQL).WillReturnRows(
					sqlmock.NewRows(entryCols).AddRow(
						int64(3), int64(1), "refund", int64(10), int64(0), int64(10),
						"", "", "shared", "", "", "", time.Now(),
					),
				)
			},
			wantErr:    ErrIdempotencyConflict,
			wantReason: "idempotency_conflict",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, mock, rec := newMockService(t, 0)
			if tt.setup != nil {
				tt.setup(mock)
			}

			_, err := svc.Execute(t.Context(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)

			events := rec.OfType(audit.EventLedgerTransactionFailed)
			require.Len(t, events, 1)
			assert.Equal(t, audit.SeverityWarning, events[0].Severity)
			assert.Equal(t, tt.wantReason, events[0].Details["reason"])
			assert.Equal(t, tt.req.Security.UserID, events[0].Security.UserID)

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestExecute_StorageErrorHidesDriverText(t *testing.T) {
	t.Parallel()

	svc, mock, _ := newMockService(t, 0)
	mock.ExpectQuery(findByKeySQL).WillReturnError(errors.New("pq: password authentication failed"))

	_, err := svc.Execute(t.Context(), Request{Kind: KindRefund, Amount: 1, Security: player(1)})
	require.ErrorIs(t, err, ErrStorage)
	assert.NotErrorIs(t, err, ErrLockTimeout)
}

// Two requests with the same key race past the lookup; the loser's insert hits
// the unique constraint and must come back as the winner's replay.
func TestExecute_ConcurrentSameKeyBecomesReplay(t *testing.T) {
	t.Parallel()

	svc, mock, rec := newMockService(t, 0)

	mock.ExpectQuery(findByKeySQL).WillReturnRows(sqlmock.NewRows(entryCols))
	mock.ExpectBegin()
	mock.ExpectQuery(lockSQL).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(60)))
	mock.ExpectExec(setBalanceSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(insertSQL).WillReturnError(&pgconn.PgError{
		Code:           "23505",
		ConstraintName: "ledger_entries_idempotency_key_key",
	})
	mock.ExpectRollback()
	mock.ExpectQuery(findByKeySQL).WillReturnRows(
		sqlmock.NewRows(entryCols).AddRow(
			int64(11), int64(5), "entry_fee", int64(-10), int64(70), int64(60),
			"cup", "competition_entry", "k", "", "", "", time.Now(),
		),
	)

	res, err := svc.Execute(t.Context(), Request{
		Kind:           KindEntryFee,
		Amount:         -10,
		ReferenceID:    "cup",
		Security:       player(5),
		IdempotencyKey: "k",
	})
	require.NoError(t, err)

	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(11), res.EntryID)
	assert.Equal(t, int64(60), res.BalanceAfter)
	assert.Empty(t, rec.Events())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		stored     int64
		sum        int64
		consistent bool
	}{
		{name: "consistent", stored: 120, sum: 120, consistent: true},
		{name: "drifted", stored: 150, sum: 120, consistent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, mock, rec := newMockService(t, 0)
			mock.ExpectQuery("FROM users u LEFT JOIN ledger_entries e").WithArgs(uint64(8)).
				WillReturnRows(sqlmock.NewRows([]string{"balance", "sum", "count"}).
					AddRow(tt.stored, tt.sum, int64(4)))

			rep, err := svc.Reconcile(t.Context(), 8)
			require.NoError(t, err)

			assert.Equal(t, Report{
				UserID:            8,
				StoredBalance:     tt.stored,
				CalculatedBalance: tt.sum,
				EntryCount:        4,
				IsConsistent:      tt.consistent,
			}, rep)

			mismatches := rec.OfType(audit.EventReconciliationMismatch)
			if tt.consistent {
				assert.Empty(t, mismatches)
			} else {
				require.Len(t, mismatches, 1)
				assert.Equal(t, audit.SeverityCritical, mismatches[0].Severity)
				assert.Equal(t, int64(30), mismatches[0].Details["difference"])
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestReconcile_UnknownUser(t *testing.T) {
	t.Parallel()

	svc, mock, _ := newMockService(t, 0)
	mock.ExpectQuery("FROM users u LEFT JOIN ledger_entries e").
		WillReturnRows(sqlmock.NewRows([]string{"balance", "sum", "count"}))

	_, err := svc.Reconcile(t.Context(), 99)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestBalance(t *testing.T) {
	t.Parallel()

	svc, mock, _ := newMockService(t, 0)
	mock.ExpectQuery("SELECT balance FROM users WHERE id = \\$1").WithArgs(uint64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(42)))

	got, err := svc.Balance(t.Context(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
}
