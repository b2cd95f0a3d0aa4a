package engine

import (
	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// DefaultSlipTolerance absorbs bank-fee rounding on the customer's side.
var DefaultSlipTolerance = decimal.NewFromInt(100)

type MatchReason string

const (
	MatchReasonMatched        MatchReason = "MATCHED"
	MatchReasonNoUnpaid       MatchReason = "NO_UNPAID_INSTALLMENT"
	MatchReasonOutOfTolerance MatchReason = "NO_MATCH_WITHIN_TOLERANCE"
	MatchReasonInvalidAmount  MatchReason = "INVALID_AMOUNT"
)

// Match is the outcome of reconciling a slip amount against a schedule.
// A nil EntryID means the slip goes to manual review.
type Match struct {
	EntryID           *uuid.UUID      `json:"entry_id"`
	InstallmentNumber int             `json:"installment_number,omitempty"`
	Difference        decimal.Decimal `json:"difference"`
	Candidates        int             `json:"candidates"` // Installments within tolerance
	Reason            MatchReason     `json:"reason"`
}

// Matched reports whether an installment was picked.
func (m Match) Matched() bool {
	return m.EntryID != nil
}

// Reconcile picks the unpaid installment a slip amount most plausibly
// settles. Candidates are unpaid installments whose total is within
// tolerance of the amount; the one with the earliest due date wins, so the
// oldest debt is settled first. The entries are not modified.
func Reconcile(amount decimal.Decimal, entries []*models.ScheduleEntry, tolerance decimal.Decimal) Match {
	if !amount.IsPositive() {
		return Match{Difference: decimal.Zero, Reason: MatchReasonInvalidAmount}
	}

	unpaid := make([]*models.ScheduleEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsUnpaid() {
			unpaid = append(unpaid, e)
		}
	}
	if len(unpaid) == 0 {
		return Match{Difference: decimal.Zero, Reason: MatchReasonNoUnpaid}
	}

	var (
		best       *models.ScheduleEntry
		bestDiff   decimal.Decimal
		candidates int
	)
	for _, e := range sortByDue(unpaid) {
		diff := amount.Sub(e.TotalAmount).Abs()
		if diff.GreaterThan(tolerance) {
			continue
		}
		candidates++
		if best == nil {
			best, bestDiff = e, diff
		}
	}

	if best == nil {
		return Match{Difference: decimal.Zero, Reason: MatchReasonOutOfTolerance}
	}
	id := best.ID
	return Match{
		EntryID:           &id,
		InstallmentNumber: best.InstallmentNumber,
		Difference:        bestDiff,
		Candidates:        candidates,
		Reason:            MatchReasonMatched,
	}
}
