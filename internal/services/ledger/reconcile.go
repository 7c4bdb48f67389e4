package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/fastprodman/gameledger/internal/repos/users"
	"github.com/fastprodman/gameledger/internal/security"
	"github.com/fastprodman/gameledger/internal/services/audit"
)

// Reconcile compares the stored balance with the sum of the player's entries.
// It never repairs anything; a mismatch is reported as a critical audit event.
func (s *Service) Reconcile(ctx context.Context, userID uint64) (Report, error) {
	totals, err := s.entries.Totals(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return Report{}, ErrUserNotFound
		}

		return Report{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	rep := Report{
		UserID:            userID,
		StoredBalance:     totals.StoredBalance,
		CalculatedBalance: totals.EntrySum,
		EntryCount:        totals.EntryCount,
		IsConsistent:      totals.StoredBalance == totals.EntrySum,
	}

	if !rep.IsConsistent {
		s.logger.Error("ledger reconciliation mismatch",
			"user_id", userID,
			"stored_balance", rep.StoredBalance,
			"calculated_balance", rep.CalculatedBalance,
		)

		s.audit.Record(ctx, audit.Event{
			Type:     audit.EventReconciliationMismatch,
			Severity: audit.SeverityCritical,
			Details: audit.Details{
				"stored_balance":     rep.StoredBalance,
				"calculated_balance": rep.CalculatedBalance,
				"difference":         rep.StoredBalance - rep.CalculatedBalance,
				"entry_count":        rep.EntryCount,
			},
			Security: security.Context{UserID: userID},
		})
	}

	return rep, nil
}
