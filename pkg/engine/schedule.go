package engine

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// GenerateSchedule builds the full installment plan for a contract. It
// returns either exactly TermMonths entries or an error, never a partial plan.
//
// Installment n falls due on the payment day of the n-th month after the
// start month. Every installment but the last carries the rounded monthly
// payment split into a whole-unit straight-line interest share and the
// principal remainder; the last one absorbs all rounding so each column sums
// exactly. ValidateTerms guarantees no column goes negative.
func GenerateSchedule(contractID uuid.UUID, t LoanTerms) ([]*models.ScheduleEntry, error) {
	quote, err := Amortize(t)
	if err != nil {
		return nil, err
	}

	share := interestShare(quote.TotalInterest, t.TermMonths)

	entries := make([]*models.ScheduleEntry, 0, t.TermMonths)
	interestLeft := quote.TotalInterest
	totalLeft := quote.TotalDue

	for n := 1; n <= t.TermMonths; n++ {
		interest, total := share, quote.MonthlyPayment
		if n == t.TermMonths {
			interest, total = interestLeft, totalLeft
		}
		interestLeft = interestLeft.Sub(interest)
		totalLeft = totalLeft.Sub(total)

		entries = append(entries, &models.ScheduleEntry{
			ID:                uuid.New(),
			ContractID:        contractID,
			InstallmentNumber: n,
			DueDate:           DueDate(t.StartDate, n, t.PaymentDay),
			PrincipalAmount:   total.Sub(interest),
			InterestAmount:    interest,
			TotalAmount:       total,
			PaidAmount:        decimal.Zero,
			Status:            models.ScheduleStatusPending,
		})
	}

	if sum := ScheduleTotal(entries); !sum.Equal(quote.TotalDue) {
		return nil, fmt.Errorf("%w: entries sum to %s, expected %s", ErrScheduleIntegrity, sum, quote.TotalDue)
	}
	return entries, nil
}
