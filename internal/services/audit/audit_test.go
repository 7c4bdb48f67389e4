package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/fastprodman/gameledger/internal/repos/auditlog"
	"github.com/fastprodman/gameledger/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	recs []auditlog.Record
	err  error
}

func (f *fakeStore) Append(ctx context.Context, rec auditlog.Record) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if f.err != nil {
		return f.err
	}
	f.recs = append(f.recs, rec)
	return nil
}

func newTestSink(store auditlog.AuditLog) (*Sink, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	s := New(store, logger)
	s.now = func() time.Time { return time.Date(2026, 10, 19, 8, 30, 0, 0, time.FixedZone("X", 3600)) }

	return s, buf
}

func TestSink_Record(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	sink, _ := newTestSink(store)

	sink.Record(context.Background(), Event{
		Type:     EventLedgerTransactionFailed,
		Severity: SeverityWarning,
		Details:  Details{"kind": "entry_fee", "amount": -100},
		Security: security.Context{UserID: 5, ClientIP: "198.51.100.1", UserAgent: "ua"},
	})

	require.Len(t, store.recs, 1)
	rec := store.recs[0]
	assert.NotEmpty(t, rec.EventID)
	assert.Equal(t, "warning", rec.Severity)
	require.NotNil(t, rec.UserID)
	assert.Equal(t, uint64(5), *rec.UserID)
	assert.Equal(t, "198.51.100.1", rec.ClientIP)
	assert.Equal(t, time.UTC, rec.CreatedAt.Location())

	var details map[string]any
	require.NoError(t, json.Unmarshal(rec.Details, &details))
	assert.Equal(t, "entry_fee", details["kind"])
}

func TestSink_Record_AnonymousHasNoUser(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	sink, _ := newTestSink(store)

	sink.Record(context.Background(), Event{Type: EventRateLimited, Severity: SeverityInfo})

	require.Len(t, store.recs, 1)
	assert.Nil(t, store.recs[0].UserID)
	assert.Empty(t, store.recs[0].Details)
}

func TestSink_Record_StoreFailureIsLoggedNotReturned(t *testing.T) {
	t.Parallel()

	sink, buf := newTestSink(&fakeStore{err: errors.New("disk full")})

	assert.NotPanics(t, func() {
		sink.Record(context.Background(), Event{Type: EventSessionReplay, Severity: SeverityWarning})
	})
	assert.Contains(t, buf.String(), "audit write failed")
	assert.Contains(t, buf.String(), "disk full")
}

func TestSink_Record_SurvivesCancelledRequest(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	sink, _ := newTestSink(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink.Record(ctx, Event{Type: EventImplausibleScore, Severity: SeverityCritical})

	assert.Len(t, store.recs, 1)
}

func TestSink_Record_CriticalMirroredToLog(t *testing.T) {
	t.Parallel()

	sink, buf := newTestSink(&fakeStore{})

	sink.Record(context.Background(), Event{
		Type:     EventReconciliationMismatch,
		Severity: SeverityCritical,
		Details:  Details{"stored": 10, "calculated": 12},
	})

	assert.Contains(t, buf.String(), "critical audit event")
	assert.Contains(t, buf.String(), EventReconciliationMismatch)
}
