package economy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/gameledger/internal/security"
	"github.com/fastprodman/gameledger/internal/services/audit"
	"github.com/fastprodman/gameledger/internal/services/ledger"
)

type SettleParams struct {
	CompetitionID string
	Period        string
	PeriodDate    time.Time
	PrizePool     int64
	// Security is the operator running the settlement.
	Security security.Context
}

// Payout is one rank of a settlement. Error is a ledger reason code such as
// lock_timeout, never the underlying error text.
type Payout struct {
	Rank      int    `json:"rank"`
	UserID    uint64 `json:"userId"`
	Score     int64  `json:"score"`
	Amount    int64  `json:"amount"`
	EntryID   int64  `json:"entryId,omitempty"`
	Duplicate bool   `json:"duplicate"`
	Error     string `json:"error,omitempty"`
}

type Settlement struct {
	CompetitionID string `json:"competitionId"`
	Period        string `json:"period"`
	PeriodDate    string `json:"periodDate"`
	PrizePool     int64  `json:"prizePool"`
	// RankedParticipants counts the ranking rows read, at most the size of
	// the prize table.
	RankedParticipants int      `json:"rankedParticipants"`
	Payouts            []Payout `json:"payouts"`
}

// Settle pays the prize table for one competition period. Each rank has its
// own explicit key, so running Settle again pays only what failed before.
// Failed payouts are reported together in the returned error.
func (s *Service) Settle(ctx context.Context, p SettleParams) (Settlement, error) {
	if !p.Security.IsAdmin() {
		return Settlement{}, ErrNotAdmin
	}
	if p.PrizePool <= 0 {
		return Settlement{}, ErrInvalidAmount
	}

	day := p.PeriodDate.UTC().Truncate(24 * time.Hour)

	ranking, err := s.scores.Ranking(ctx, p.CompetitionID, p.Period, day, s.prizes.Size())
	if err != nil {
		return Settlement{}, fmt.Errorf("load ranking: %w", err)
	}

	out := Settlement{
		CompetitionID:      p.CompetitionID,
		Period:             p.Period,
		PeriodDate:         day.Format(time.DateOnly),
		PrizePool:          p.PrizePool,
		RankedParticipants: len(ranking),
	}

	amounts := s.prizes.DistributeAll(p.PrizePool, len(ranking))

	var errs []error

	for i, entry := range ranking {
		rank := i + 1

		amount, ok := amounts[rank]
		if !ok {
			continue
		}

		payout := Payout{Rank: rank, UserID: entry.UserID, Score: entry.Score, Amount: amount}
		winner := p.Security.ForUser(entry.UserID)

		res, err := s.ledger.Execute(ctx, ledger.Request{
			Kind:           ledger.KindPrizePayout,
			Amount:         amount,
			ReferenceID:    fmt.Sprintf("%s:%s:%s#%d", p.CompetitionID, p.Period, out.PeriodDate, rank),
			ReferenceType:  RefPrizePayout,
			Security:       winner,
			IdempotencyKey: ledger.PrizePayoutKey(p.CompetitionID, p.Period, day, rank),
		})
		if err != nil {
			payout.Error = ledger.ReasonCode(err)
			errs = append(errs, fmt.Errorf("rank %d (user %d): %w", rank, entry.UserID, err))

			s.logger.Error("prize payout failed",
				"competition_id", p.CompetitionID,
				"rank", rank,
				"user_id", entry.UserID,
				"amount", amount,
				"error", err,
			)

			s.audit.Record(ctx, audit.Event{
				Type:     audit.EventPrizePayoutFailed,
				Severity: audit.SeverityCritical,
				Details: audit.Details{
					"competition_id": p.CompetitionID,
					"period":         p.Period,
					"period_date":    out.PeriodDate,
					"rank":           rank,
					"amount":         amount,
					"reason":         payout.Error,
				},
				Security: winner,
			})
		} else {
			payout.EntryID = res.EntryID
			payout.Duplicate = res.Duplicate
			s.mirror(ctx, winner, ledger.KindPrizePayout, amount, res)
		}

		out.Payouts = append(out.Payouts, payout)
	}

	s.logger.Info("competition settled",
		"competition_id", p.CompetitionID,
		"period", p.Period,
		"period_date", out.PeriodDate,
		"ranked_participants", out.RankedParticipants,
		"payouts", len(out.Payouts),
		"failed", len(errs),
	)

	return out, errors.Join(errs...)
}
