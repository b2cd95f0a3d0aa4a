package engine

import (
	"sort"
	"time"

	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// Balance is a contract's outstanding position derived from its schedule.
type Balance struct {
	TotalDue    decimal.Decimal `json:"total_due"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	Outstanding decimal.Decimal `json:"outstanding"`
	// Overpayment is how far TotalPaid exceeds TotalDue. Non-zero means the
	// unclamped balance went negative, which points at bad upstream data.
	Overpayment decimal.Decimal `json:"overpayment"`
}

// ScheduleTotal sums the total amount of every installment.
func ScheduleTotal(entries []*models.ScheduleEntry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.TotalAmount)
	}
	return sum
}

// OutstandingBalance computes max(0, total due − totalPaid), taking the total
// due from the schedule itself rather than the stored contract field.
func OutstandingBalance(entries []*models.ScheduleEntry, totalPaid decimal.Decimal) Balance {
	due := ScheduleTotal(entries)
	b := Balance{
		TotalDue:    due,
		TotalPaid:   totalPaid,
		Outstanding: due.Sub(totalPaid),
		Overpayment: decimal.Zero,
	}
	if b.Outstanding.IsNegative() {
		b.Overpayment = b.Outstanding.Neg()
		b.Outstanding = decimal.Zero
	}
	return b
}

// EarliestUnpaid returns the unpaid installment with the oldest due date, or
// nil when everything is paid.
func EarliestUnpaid(entries []*models.ScheduleEntry) *models.ScheduleEntry {
	var earliest *models.ScheduleEntry
	for _, e := range entries {
		if !e.IsUnpaid() {
			continue
		}
		if earliest == nil || dueBefore(e, earliest) {
			earliest = e
		}
	}
	return earliest
}

// DaysOverdue is the age in days of the oldest unpaid installment, or 0 if
// it is not yet due. Later misses do not add to the count.
func DaysOverdue(entries []*models.ScheduleEntry, asOf time.Time) int {
	e := EarliestUnpaid(entries)
	if e == nil {
		return 0
	}
	if days := DaysBetween(e.DueDate, asOf); days > 0 {
		return days
	}
	return 0
}

// Evaluation is the result of recomputing a contract against its schedule.
type Evaluation struct {
	Balance
	DaysOverdue int                   `json:"days_overdue"`
	NextStatus  models.ContractStatus `json:"next_status"`
}

// Recompute derives the balance, overdue age and next status of a contract
// using the default lifecycle policy.
func Recompute(entries []*models.ScheduleEntry, totalPaid decimal.Decimal, asOf time.Time, current models.ContractStatus) Evaluation {
	return DefaultLifecycle().Recompute(entries, totalPaid, asOf, current)
}

// AgingBucket groups contracts by how long their oldest installment is overdue.
type AgingBucket string

const (
	AgingCurrent AgingBucket = "CURRENT"
	Aging1To30   AgingBucket = "1-30"
	Aging31To60  AgingBucket = "31-60"
	Aging61To90  AgingBucket = "61-90"
	AgingOver90  AgingBucket = "90+"
)

// AllAgingBuckets lists buckets from least to most overdue.
func AllAgingBuckets() []AgingBucket {
	return []AgingBucket{AgingCurrent, Aging1To30, Aging31To60, Aging61To90, AgingOver90}
}

// BucketFor places a days-overdue count into its aging bucket.
func BucketFor(daysOverdue int) AgingBucket {
	switch {
	case daysOverdue <= 0:
		return AgingCurrent
	case daysOverdue <= 30:
		return Aging1To30
	case daysOverdue <= 60:
		return Aging31To60
	case daysOverdue <= 90:
		return Aging61To90
	default:
		return AgingOver90
	}
}

// ScheduleSummary aggregates a schedule for display.
type ScheduleSummary struct {
	Installments    int                   `json:"installments"`
	Paid            int                   `json:"paid"`
	Pending         int                   `json:"pending"`
	Overdue         int                   `json:"overdue"`
	PaidAmount      decimal.Decimal       `json:"paid_amount"`
	OverdueAmount   decimal.Decimal       `json:"overdue_amount"`
	RemainingAmount decimal.Decimal       `json:"remaining_amount"`
	NextDue         *models.ScheduleEntry `json:"next_due,omitempty"`
}

// Summarize counts installments by state as of a date. A pending installment
// already past due is counted as overdue even before the batch has marked it.
func Summarize(entries []*models.ScheduleEntry, asOf time.Time) ScheduleSummary {
	s := ScheduleSummary{
		Installments:    len(entries),
		PaidAmount:      decimal.Zero,
		OverdueAmount:   decimal.Zero,
		RemainingAmount: decimal.Zero,
	}
	today := DateOf(asOf)
	for _, e := range entries {
		switch {
		case !e.IsUnpaid():
			s.Paid++
			s.PaidAmount = s.PaidAmount.Add(e.PaidAmount)
		case e.Status == models.ScheduleStatusOverdue || e.DueDate.Before(today):
			s.Overdue++
			s.OverdueAmount = s.OverdueAmount.Add(e.TotalAmount)
			s.RemainingAmount = s.RemainingAmount.Add(e.TotalAmount)
		default:
			s.Pending++
			s.RemainingAmount = s.RemainingAmount.Add(e.TotalAmount)
		}
	}
	s.NextDue = EarliestUnpaid(entries)
	return s
}

// sortByDue orders a copy of entries oldest obligation first.
func sortByDue(entries []*models.ScheduleEntry) []*models.ScheduleEntry {
	sorted := make([]*models.ScheduleEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return dueBefore(sorted[i], sorted[j])
	})
	return sorted
}

func dueBefore(a, b *models.ScheduleEntry) bool {
	if !a.DueDate.Equal(b.DueDate) {
		return a.DueDate.Before(b.DueDate)
	}
	return a.InstallmentNumber < b.InstallmentNumber
}
