// Package prizes maps a final rank and a prize pool to a payout. It does no
// I/O; settlement pays the amounts through the ledger.
package prizes

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Table holds the payout percentage of ranks 1..N.
type Table struct {
	pct []decimal.Decimal
}

// Default pays the top 20: 25, 15, 10, 8, 6, 5, 4, 3.5, 3, 2.5, then 1.8
// for ranks 11-20. The shares add up to 100%.
var Default = MustTable(
	"25", "15", "10", "8", "6", "5", "4", "3.5", "3", "2.5",
	"1.8", "1.8", "1.8", "1.8", "1.8", "1.8", "1.8", "1.8", "1.8", "1.8",
)

// NewTable builds a table from percentages given for rank 1 first. Shares
// must be positive, non-increasing, and sum to at most 100.
func NewTable(percentages ...string) (Table, error) {
	if len(percentages) == 0 {
		return Table{}, fmt.Errorf("prize table is empty")
	}

	pct := make([]decimal.Decimal, 0, len(percentages))
	total := decimal.Zero

	for i, s := range percentages {
		p, err := decimal.NewFromString(s)
		if err != nil {
			return Table{}, fmt.Errorf("rank %d: %w", i+1, err)
		}
		if !p.IsPositive() {
			return Table{}, fmt.Errorf("rank %d: share must be positive", i+1)
		}
		if i > 0 && p.GreaterThan(pct[i-1]) {
			return Table{}, fmt.Errorf("rank %d: share exceeds rank %d", i+1, i)
		}

		total = total.Add(p)
		pct = append(pct, p)
	}

	if total.GreaterThan(hundred) {
		return Table{}, fmt.Errorf("shares add up to %s%%", total)
	}

	return Table{pct: pct}, nil
}

func MustTable(percentages ...string) Table {
	t, err := NewTable(percentages...)
	if err != nil {
		panic(err)
	}

	return t
}

// Size is the number of paid ranks.
func (t Table) Size() int {
	return len(t.pct)
}

// PrizeForRank returns floor(pool * share / 100), or 0 for a rank outside
// the table or a non-positive pool.
func (t Table) PrizeForRank(rank int, pool int64) int64 {
	if rank < 1 || rank > len(t.pct) || pool <= 0 {
		return 0
	}

	return decimal.NewFromInt(pool).
		Mul(t.pct[rank-1]).
		Div(hundred).
		Floor().
		IntPart()
}

// DistributeAll returns the payout of every paid rank up to participants.
// Ranks whose share floors to zero are left out.
func (t Table) DistributeAll(pool int64, participants int) map[int]int64 {
	n := min(len(t.pct), participants)

	out := make(map[int]int64, max(n, 0))
	for rank := 1; rank <= n; rank++ {
		amount := t.PrizeForRank(rank, pool)
		if amount > 0 {
			out[rank] = amount
		}
	}

	return out
}
