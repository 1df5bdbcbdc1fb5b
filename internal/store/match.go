package store

import (
	"strings"
	"time"

	"spotpilot/internal/decision"

	"github.com/shopspring/decimal"
)

// DefaultDedupWindow is how far back AttachExecution looks for the record
// saved when the proposal was generated.
const DefaultDedupWindow = 5 * time.Minute

// MatchPending picks the record a freshly executed proposal belongs to:
// unexecuted, no entry order yet, created within window before now, same
// symbol, equal signal, confidence and amount (both-null counts as equal). The most recent
// candidate wins; ties go to the higher id.
func MatchPending(candidates []Recommendation, p decision.Proposal, now time.Time, window time.Duration) (Recommendation, bool) {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	cutoff := now.Add(-window)
	var (
		best  Recommendation
		found bool
	)
	for _, c := range candidates {
		if c.Executed || c.HasEntryOrder() {
			continue
		}
		if c.CreatedAt.Before(cutoff) || c.CreatedAt.After(now) {
			continue
		}
		if !strings.EqualFold(c.Proposal.Symbol, p.Symbol) {
			continue
		}
		if c.Proposal.Signal != p.Signal || c.Proposal.Confidence != p.Confidence {
			continue
		}
		if !sameAmount(c.Proposal.Amount, p.Amount) {
			continue
		}
		if !found || c.CreatedAt.After(best.CreatedAt) ||
			(c.CreatedAt.Equal(best.CreatedAt) && c.ID > best.ID) {
			best, found = c, true
		}
	}
	return best, found
}

func sameAmount(a, b decimal.NullDecimal) bool {
	if !a.Valid || !b.Valid {
		return a.Valid == b.Valid
	}
	return a.Decimal.Equal(b.Decimal)
}
