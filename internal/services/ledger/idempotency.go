package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const keyLength = 32

// DeriveKey maps one logical event to a stable key. Identical inputs on the
// same UTC calendar day give the same key; any change, including the day,
// gives a different one.
func DeriveKey(userID uint64, kind Kind, referenceID string, amount int64, at time.Time) string {
	return digest(
		strconv.FormatUint(userID, 10),
		string(kind),
		referenceID,
		strconv.FormatInt(amount, 10),
		at.UTC().Format(time.DateOnly),
	)
}

// PrizePayoutKey is the explicit key for the payout of one rank of one
// competition period. It does not depend on the winner or the amount, so a
// rerun of a settlement can never pay the same rank twice.
func PrizePayoutKey(competitionID, period string, periodDate time.Time, rank int) string {
	return "prize_" + digest(
		competitionID,
		period,
		periodDate.UTC().Format(time.DateOnly),
		strconv.Itoa(rank),
	)
}

// digest length-prefixes every part so that free-form references containing
// the separator cannot shift into a neighbouring field.
func digest(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
		b.WriteByte('|')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:keyLength]
}
