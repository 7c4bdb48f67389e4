package auditlog

import (
	"context"
	"encoding/json"
	"time"
)

// Record is one row of the append-only audit_log table.
type Record struct {
	EventID   string
	EventType string
	Severity  string
	Details   json.RawMessage
	UserID    *uint64
	ClientIP  string
	UserAgent string
	CreatedAt time.Time
}

type AuditLog interface {
	Append(ctx context.Context, rec Record) error
}
