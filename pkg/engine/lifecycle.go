package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// DefaultAfterDays is how long the oldest installment may stay unpaid before
// the contract defaults.
const DefaultAfterDays = 90

// Lifecycle decides contract status transitions.
type Lifecycle struct {
	DefaultAfterDays int
}

// DefaultLifecycle returns a Lifecycle using DefaultAfterDays.
func DefaultLifecycle() Lifecycle {
	return Lifecycle{DefaultAfterDays: DefaultAfterDays}
}

// NextStatus returns the status a contract should move to. Only ACTIVE
// contracts move: a settled balance completes them, an overdue age beyond
// the threshold defaults them. COMPLETED and DEFAULT never change.
func (l Lifecycle) NextStatus(current models.ContractStatus, outstanding decimal.Decimal, daysOverdue int) models.ContractStatus {
	if current.IsTerminal() {
		return current
	}
	if !outstanding.IsPositive() {
		return models.ContractStatusCompleted
	}
	if daysOverdue > l.DefaultAfterDays {
		return models.ContractStatusDefault
	}
	return current
}

// Recompute derives balance, overdue age and next status in one pass.
func (l Lifecycle) Recompute(entries []*models.ScheduleEntry, totalPaid decimal.Decimal, asOf time.Time, current models.ContractStatus) Evaluation {
	b := OutstandingBalance(entries, totalPaid)
	days := DaysOverdue(entries, asOf)
	return Evaluation{
		Balance:     b,
		DaysOverdue: days,
		NextStatus:  l.NextStatus(current, b.Outstanding, days),
	}
}

// NextStatus applies the default lifecycle policy.
func NextStatus(current models.ContractStatus, outstanding decimal.Decimal, daysOverdue int) models.ContractStatus {
	return DefaultLifecycle().NextStatus(current, outstanding, daysOverdue)
}

// CanTransition reports whether an installment may move from one status to
// another. PAID is terminal and nothing moves back to PENDING.
func CanTransition(from, to models.ScheduleStatus) bool {
	switch from {
	case models.ScheduleStatusPending:
		return to == models.ScheduleStatusOverdue || to == models.ScheduleStatusPaid
	case models.ScheduleStatusOverdue:
		return to == models.ScheduleStatusPaid
	default:
		return false
	}
}

// MarkOverdue flips a pending installment to OVERDUE once its due date is
// before today. It reports whether the entry changed.
func MarkOverdue(e *models.ScheduleEntry, today time.Time) bool {
	if e.Status != models.ScheduleStatusPending {
		return false
	}
	if !e.DueDate.Before(DateOf(today)) {
		return false
	}
	e.Status = models.ScheduleStatusOverdue
	return true
}

// MarkPaid settles an installment with a verified payment.
func MarkPaid(e *models.ScheduleEntry, amount decimal.Decimal, paidAt time.Time, paymentID *uuid.UUID) error {
	if !CanTransition(e.Status, models.ScheduleStatusPaid) {
		return fmt.Errorf("%w: installment %d is %s", ErrInvalidTransition, e.InstallmentNumber, e.Status)
	}
	e.Status = models.ScheduleStatusPaid
	e.PaidAmount = amount
	e.PaidAt = &paidAt
	e.PaymentID = paymentID
	return nil
}
