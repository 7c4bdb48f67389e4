package ratelimits

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fastprodman/gameledger/internal/infra/pgtestutil"
	"github.com/fastprodman/gameledger/internal/repos/ratelimits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lockSQL = "SELECT request_count, window_start FROM rate_limits WHERE user_id = \\$1 AND endpoint = \\$2 FOR UPDATE"

func TestCounters_Hit_Branches(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	window := time.Minute

	tests := []struct {
		name  string
		setup func(mock sqlmock.Sqlmock)
		want  ratelimits.Outcome
	}{
		{
			name: "first_request",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(lockSQL).WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery("INSERT INTO rate_limits").
					WithArgs(uint64(1), "submit_score", now).
					WillReturnRows(sqlmock.NewRows([]string{"request_count", "window_start"}).AddRow(1, now))
			},
			want: ratelimits.Outcome{Allowed: true, Count: 1, ResetAt: now.Add(window)},
		},
		{
			name: "window_expired",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(lockSQL).
					WillReturnRows(sqlmock.NewRows([]string{"request_count", "window_start"}).AddRow(5, now.Add(-window)))
				mock.ExpectExec("SET request_count = 1, window_start = \\$3").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			want: ratelimits.Outcome{Allowed: true, Count: 1, ResetAt: now.Add(window)},
		},
		{
			name: "limit_reached",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(lockSQL).
					WillReturnRows(sqlmock.NewRows([]string{"request_count", "window_start"}).AddRow(5, now.Add(-10*time.Second)))
			},
			want: ratelimits.Outcome{Allowed: false, Count: 5, ResetAt: now.Add(50 * time.Second)},
		},
		{
			name: "increment",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(lockSQL).
					WillReturnRows(sqlmock.NewRows([]string{"request_count", "window_start"}).AddRow(2, now.Add(-10*time.Second)))
				mock.ExpectExec("SET request_count = request_count \\+ 1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			want: ratelimits.Outcome{Allowed: true, Count: 3, ResetAt: now.Add(50 * time.Second)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectBegin()
			tt.setup(mock)
			mock.ExpectCommit()

			got, err := New(db).Hit(t.Context(), 1, "submit_score", 5, window, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCounters_Hit_StorageError(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("connection refused")
	mock.ExpectBegin()
	mock.ExpectQuery(lockSQL).WillReturnError(boom)
	mock.ExpectRollback()

	_, err = New(db).Hit(t.Context(), 1, "submit_score", 5, time.Minute, time.Now())
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 5 requests per minute: the 5th fits, the 6th is denied until the window
// started by the 1st ends, and a request after that opens a new window.
func TestCounters_Hit_Boundary(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	repo := New(db)
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		out, err := repo.Hit(t.Context(), 9, "submit_score", 5, time.Minute, start.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.True(t, out.Allowed, "request %d", i)
		require.Equal(t, i, out.Count)
	}

	out, err := repo.Hit(t.Context(), 9, "submit_score", 5, time.Minute, start.Add(6*time.Second))
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.True(t, out.ResetAt.Equal(start.Add(time.Second+time.Minute)))

	other, err := repo.Hit(t.Context(), 9, "create_session", 5, time.Minute, start.Add(6*time.Second))
	require.NoError(t, err)
	assert.True(t, other.Allowed, "endpoints are counted separately")

	out, err = repo.Hit(t.Context(), 9, "submit_score", 5, time.Minute, start.Add(61*time.Second))
	require.NoError(t, err)
	assert.True(t, out.Allowed)
	assert.Equal(t, 1, out.Count)
}
