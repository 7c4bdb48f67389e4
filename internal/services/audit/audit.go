// Package audit is the append-only, severity-tagged security trail.
//
// Recording is best effort: a failed write is reported on the process log
// and swallowed, so the operation that triggered the event continues.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fastprodman/gameledger/internal/infra/logging"
	"github.com/fastprodman/gameledger/internal/repos/auditlog"
	"github.com/fastprodman/gameledger/internal/security"
	"github.com/google/uuid"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event types written by the components of this service.
const (
	EventLedgerTransactionFailed = "ledger_transaction_failed"
	EventReconciliationMismatch  = "ledger_reconciliation_mismatch"
	EventSessionCreated          = "game_session_created"
	EventSessionInvalid          = "game_session_invalid"
	EventSessionReplay           = "game_session_replay"
	EventSessionExpired          = "game_session_expired"
	EventImplausibleScore        = "implausible_score"
	EventLegacyRankedSubmission  = "legacy_ranked_submission"
	EventRateLimited             = "rate_limited"
	EventUpstreamSyncFailed      = "upstream_sync_failed"
	EventPrizePayoutFailed       = "prize_payout_failed"
	EventAdminAdjustment         = "admin_adjustment"
)

// Details is the free-form payload of an event.
type Details map[string]any

type Event struct {
	Type     string
	Severity Severity
	Details  Details
	// Security is optional; a zero UserID is stored as NULL.
	Security security.Context
}

// Recorder is what the other components depend on.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

type Sink struct {
	store  auditlog.AuditLog
	logger *slog.Logger
	now    func() time.Time
}

var _ Recorder = (*Sink)(nil)

func New(store auditlog.AuditLog, logger *slog.Logger) *Sink {
	return &Sink{
		store:  store,
		logger: logging.OrDiscard(logger),
		now:    time.Now,
	}
}

// Record appends ev. It never fails from the caller's point of view.
func (s *Sink) Record(ctx context.Context, ev Event) {
	rec := auditlog.Record{
		EventID:   uuid.NewString(),
		EventType: ev.Type,
		Severity:  string(ev.Severity),
		ClientIP:  ev.Security.ClientIP,
		UserAgent: ev.Security.UserAgent,
		CreatedAt: s.now().UTC(),
	}
	if ev.Security.UserID != 0 {
		uid := ev.Security.UserID
		rec.UserID = &uid
	}

	if len(ev.Details) > 0 {
		raw, err := json.Marshal(ev.Details)
		if err != nil {
			s.logger.Warn("audit details not serializable",
				"event_type", ev.Type, "error", err)
			raw = []byte(`{"marshal_error":true}`)
		}
		rec.Details = raw
	}

	if ev.Severity == SeverityCritical {
		s.logger.Error("critical audit event",
			"event_id", rec.EventID,
			"event_type", ev.Type,
			"user_id", ev.Security.UserID,
			"details", ev.Details,
		)
	}

	// The triggering request may already be cancelled (client hung up after
	// a rejected submission); the trail must still be written.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	err := s.store.Append(writeCtx, rec)
	if err != nil {
		s.logger.Error("audit write failed",
			"event_id", rec.EventID,
			"event_type", ev.Type,
			"severity", ev.Severity,
			"user_id", ev.Security.UserID,
			"error", err,
		)
	}
}
