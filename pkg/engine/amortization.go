// Package engine holds the pure calculations of the loan ledger: flat-rate
// amortization, schedule generation, balance and overdue tracking, contract
// lifecycle decisions and slip reconciliation. Nothing here performs I/O.
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	minPaymentDay = 1
	maxPaymentDay = 28
)

var hundred = decimal.NewFromInt(100)

// LoanTerms are the approved parameters of a loan.
type LoanTerms struct {
	Principal   decimal.Decimal `json:"principal"`
	MonthlyRate decimal.Decimal `json:"rate_percent_per_month"` // Flat, e.g. 1.5 for 1.5%/month
	TermMonths  int             `json:"term_months"`
	PaymentDay  int             `json:"payment_day"`
	StartDate   time.Time       `json:"start_date"`
}

// Quote is the amortization of a set of loan terms.
type Quote struct {
	TotalInterest  decimal.Decimal `json:"total_interest"`
	TotalDue       decimal.Decimal `json:"total_due"`
	MonthlyPayment decimal.Decimal `json:"monthly_payment"`
	FinalPayment   decimal.Decimal `json:"final_payment"`
	FirstDueDate   time.Time       `json:"first_due_date"`
	EndDate        time.Time       `json:"end_date"`
}

// ValidateTerms rejects terms outside the calculator's domain. Values are
// never clamped. Terms whose final installment could not cover its share of
// the interest are rejected too, so every schedule column stays non-negative.
func ValidateTerms(t LoanTerms) error {
	switch {
	case !t.Principal.IsPositive():
		return fmt.Errorf("%w: principal must be > 0, got %s", ErrInvalidTerms, t.Principal)
	case !t.MonthlyRate.IsPositive():
		return fmt.Errorf("%w: interest rate must be > 0, got %s", ErrInvalidTerms, t.MonthlyRate)
	case t.TermMonths < 1:
		return fmt.Errorf("%w: term must be at least 1 month, got %d", ErrInvalidTerms, t.TermMonths)
	case t.PaymentDay < minPaymentDay || t.PaymentDay > maxPaymentDay:
		return fmt.Errorf("%w: payment day must be between %d and %d, got %d", ErrInvalidTerms, minPaymentDay, maxPaymentDay, t.PaymentDay)
	case t.StartDate.IsZero():
		return fmt.Errorf("%w: start date is required", ErrInvalidTerms)
	}

	totalInterest := TotalInterest(t.Principal, t.MonthlyRate, t.TermMonths)
	final := FinalPayment(t.Principal.Add(totalInterest), t.TermMonths)
	if finalInterest := finalInterestShare(totalInterest, t.TermMonths); final.LessThan(finalInterest) {
		return fmt.Errorf("%w: principal %s is too small for %d installments, final installment %s would not cover interest %s",
			ErrInvalidTerms, t.Principal, t.TermMonths, final, finalInterest)
	}
	return nil
}

// TotalInterest is principal × rate/100 × term, charged on the original
// principal for the whole term.
func TotalInterest(principal, monthlyRate decimal.Decimal, termMonths int) decimal.Decimal {
	return principal.Mul(monthlyRate).Div(hundred).Mul(decimal.NewFromInt(int64(termMonths)))
}

// TotalDue is principal plus flat interest.
func TotalDue(principal, monthlyRate decimal.Decimal, termMonths int) decimal.Decimal {
	return principal.Add(TotalInterest(principal, monthlyRate, termMonths))
}

// MonthlyPayment is the total due spread evenly over the term, rounded to a
// whole currency unit.
func MonthlyPayment(totalDue decimal.Decimal, termMonths int) decimal.Decimal {
	return totalDue.Div(decimal.NewFromInt(int64(termMonths))).Round(0)
}

// FinalPayment is the last installment: whatever the regular installments
// leave of the total due.
func FinalPayment(totalDue decimal.Decimal, termMonths int) decimal.Decimal {
	regular := MonthlyPayment(totalDue, termMonths).Mul(decimal.NewFromInt(int64(termMonths - 1)))
	return totalDue.Sub(regular)
}

// interestShare is the whole-unit interest carried by each regular installment.
func interestShare(totalInterest decimal.Decimal, termMonths int) decimal.Decimal {
	return totalInterest.Div(decimal.NewFromInt(int64(termMonths))).Floor()
}

// finalInterestShare is the interest the regular installments leave for the last one.
func finalInterestShare(totalInterest decimal.Decimal, termMonths int) decimal.Decimal {
	return totalInterest.Sub(interestShare(totalInterest, termMonths).Mul(decimal.NewFromInt(int64(termMonths - 1))))
}

// EndDate is the due date of the last installment.
func EndDate(start time.Time, termMonths, paymentDay int) time.Time {
	return DueDate(start, termMonths, paymentDay)
}

// Amortize validates t and computes its quote.
func Amortize(t LoanTerms) (Quote, error) {
	if err := ValidateTerms(t); err != nil {
		return Quote{}, err
	}
	totalInterest := TotalInterest(t.Principal, t.MonthlyRate, t.TermMonths)
	totalDue := t.Principal.Add(totalInterest)
	return Quote{
		TotalInterest:  totalInterest,
		TotalDue:       totalDue,
		MonthlyPayment: MonthlyPayment(totalDue, t.TermMonths),
		FinalPayment:   FinalPayment(totalDue, t.TermMonths),
		FirstDueDate:   DueDate(t.StartDate, 1, t.PaymentDay),
		EndDate:        EndDate(t.StartDate, t.TermMonths, t.PaymentDay),
	}, nil
}
