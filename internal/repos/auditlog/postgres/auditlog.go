package auditlog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/gameledger/internal/repos/auditlog"
)

var _ auditlog.AuditLog = (*auditLogRepo)(nil)

type auditLogRepo struct{ db *sql.DB }

func New(db *sql.DB) *auditLogRepo {
	return &auditLogRepo{db: db}
}

// Append writes outside of any caller transaction: an audit record must
// survive the rollback of the operation it describes.
func (r *auditLogRepo) Append(ctx context.Context, rec auditlog.Record) error {
	details := []byte(rec.Details)
	if len(details) == 0 {
		details = []byte("{}")
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (event_id, event_type, severity, details, user_id, client_ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.EventID, rec.EventType, rec.Severity, details,
		nullableUserID(rec.UserID), rec.ClientIP, rec.UserAgent, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	return nil
}

func nullableUserID(id *uint64) any {
	if id == nil {
		return nil
	}

	return int64(*id)
}
