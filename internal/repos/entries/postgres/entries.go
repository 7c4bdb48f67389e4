package entries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/gameledger/internal/infra/pgutils"
	"github.com/fastprodman/gameledger/internal/repos/entries"
	"github.com/fastprodman/gameledger/internal/repos/users"
)

var _ entries.Entries = (*entriesRepo)(nil)

const idempotencyConstraint = "ledger_entries_idempotency_key_key"

const entryColumns = `
	id, user_id, kind, amount, balance_before, balance_after,
	COALESCE(reference_id, ''), COALESCE(reference_type, ''), idempotency_key,
	COALESCE(client_ip, ''), COALESCE(user_agent, ''), COALESCE(device_fingerprint, ''),
	created_at`

type entriesRepo struct{ db *sql.DB }

func New(db *sql.DB) *entriesRepo {
	return &entriesRepo{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (entries.Entry, error) {
	var e entries.Entry

	err := s.Scan(
		&e.ID, &e.UserID, &e.Kind, &e.Amount, &e.BalanceBefore, &e.BalanceAfter,
		&e.ReferenceID, &e.ReferenceType, &e.IdempotencyKey,
		&e.ClientIP, &e.UserAgent, &e.DeviceFingerprint,
		&e.CreatedAt,
	)

	return e, err
}

func (r *entriesRepo) FindByKey(ctx context.Context, key string) (entries.Entry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE idempotency_key = $1
	`, key)

	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entries.Entry{}, entries.ErrEntryNotFound
		}

		return entries.Entry{}, fmt.Errorf("find entry by key: %w", err)
	}

	return e, nil
}

// Insert writes e inside tx and returns it with ID and CreatedAt filled in.
func (r *entriesRepo) Insert(ctx context.Context, tx *sql.Tx, e entries.Entry) (entries.Entry, error) {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (
			user_id, kind, amount, balance_before, balance_after,
			reference_id, reference_type, idempotency_key,
			client_ip, user_agent, device_fingerprint
		)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''))
		RETURNING id, created_at
	`, e.UserID, e.Kind, e.Amount, e.BalanceBefore, e.BalanceAfter,
		e.ReferenceID, e.ReferenceType, e.IdempotencyKey,
		e.ClientIP, e.UserAgent, e.DeviceFingerprint,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if pgutils.IsUniqueViolation(err, idempotencyConstraint) {
			return entries.Entry{}, entries.ErrDuplicateKey
		}

		return entries.Entry{}, fmt.Errorf("insert entry: %w", err)
	}

	return e, nil
}

// Totals reads the stored balance and the entry sum in one statement so both
// come from the same snapshot.
func (r *entriesRepo) Totals(ctx context.Context, userID uint64) (entries.Totals, error) {
	var t entries.Totals

	err := r.db.QueryRowContext(ctx, `
		SELECT u.balance, COALESCE(SUM(e.amount), 0), COUNT(e.id)
		FROM users u
		LEFT JOIN ledger_entries e ON e.user_id = u.id
		WHERE u.id = $1
		GROUP BY u.balance
	`, userID).Scan(&t.StoredBalance, &t.EntrySum, &t.EntryCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entries.Totals{}, users.ErrUserNotFound
		}

		return entries.Totals{}, fmt.Errorf("entry totals: %w", err)
	}

	return t, nil
}

// ListForUser returns the newest entries first.
func (r *entriesRepo) ListForUser(ctx context.Context, userID uint64, limit int) ([]entries.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	out := make([]entries.Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	return out, nil
}
