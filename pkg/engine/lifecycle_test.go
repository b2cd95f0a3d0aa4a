package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStatus(t *testing.T) {
	tests := []struct {
		name        string
		current     models.ContractStatus
		outstanding string
		days        int
		want        models.ContractStatus
	}{
		{"active and current", models.ContractStatusActive, "1000", 0, models.ContractStatusActive},
		{"active at the threshold", models.ContractStatusActive, "1000", 90, models.ContractStatusActive},
		{"active past the threshold", models.ContractStatusActive, "1000", 91, models.ContractStatusDefault},
		{"active and settled", models.ContractStatusActive, "0", 0, models.ContractStatusCompleted},
		{"settled wins over overdue", models.ContractStatusActive, "0", 200, models.ContractStatusCompleted},
		{"completed stays completed", models.ContractStatusCompleted, "0", 0, models.ContractStatusCompleted},
		{"default does not recover", models.ContractStatusDefault, "500", 0, models.ContractStatusDefault},
		{"default stays default when settled", models.ContractStatusDefault, "0", 0, models.ContractStatusDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextStatus(tt.current, dec(tt.outstanding), tt.days))
		})
	}

	t.Run("custom threshold", func(t *testing.T) {
		l := Lifecycle{DefaultAfterDays: 30}
		assert.Equal(t, models.ContractStatusDefault, l.NextStatus(models.ContractStatusActive, dec("1"), 31))
		assert.Equal(t, models.ContractStatusActive, l.NextStatus(models.ContractStatusActive, dec("1"), 30))
	})

	t.Run("only terminal statuses are frozen", func(t *testing.T) {
		for _, s := range []models.ContractStatus{models.ContractStatusActive, models.ContractStatusCompleted, models.ContractStatusDefault} {
			frozen := NextStatus(s, dec("1000"), 365) == s && NextStatus(s, dec("0"), 0) == s
			assert.Equal(t, s.IsTerminal(), frozen, "%s", s)
		}
	})
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(models.ScheduleStatusPending, models.ScheduleStatusOverdue))
	assert.True(t, CanTransition(models.ScheduleStatusPending, models.ScheduleStatusPaid))
	assert.True(t, CanTransition(models.ScheduleStatusOverdue, models.ScheduleStatusPaid))
	assert.False(t, CanTransition(models.ScheduleStatusOverdue, models.ScheduleStatusPending))
	assert.False(t, CanTransition(models.ScheduleStatusPaid, models.ScheduleStatusPending))
	assert.False(t, CanTransition(models.ScheduleStatusPaid, models.ScheduleStatusOverdue))
	assert.False(t, CanTransition(models.ScheduleStatusPaid, models.ScheduleStatusPaid))
}

func TestMarkOverdue(t *testing.T) {
	today := date(2025, time.March, 25)

	e := entry(1, date(2025, time.March, 24), "100", models.ScheduleStatusPending)
	assert.True(t, MarkOverdue(e, today))
	assert.Equal(t, models.ScheduleStatusOverdue, e.Status)
	assert.False(t, MarkOverdue(e, today), "already overdue")

	dueToday := entry(2, today, "100", models.ScheduleStatusPending)
	assert.False(t, MarkOverdue(dueToday, today.Add(20*time.Hour)))
	assert.Equal(t, models.ScheduleStatusPending, dueToday.Status)

	paid := entry(3, date(2025, time.January, 1), "100", models.ScheduleStatusPaid)
	assert.False(t, MarkOverdue(paid, today))
	assert.Equal(t, models.ScheduleStatusPaid, paid.Status)
}

func TestMarkPaid(t *testing.T) {
	paidAt := time.Date(2025, time.March, 26, 10, 0, 0, 0, time.UTC)
	paymentID := uuid.New()

	e := entry(1, date(2025, time.March, 24), "100", models.ScheduleStatusOverdue)
	require.NoError(t, MarkPaid(e, dec("100"), paidAt, &paymentID))
	assert.Equal(t, models.ScheduleStatusPaid, e.Status)
	assert.True(t, e.PaidAmount.Equal(dec("100")))
	assert.Equal(t, paidAt, *e.PaidAt)
	assert.Equal(t, paymentID, *e.PaymentID)

	err := MarkPaid(e, decimal.NewFromInt(50), paidAt, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.True(t, e.PaidAmount.Equal(dec("100")), "paid entry must not change")
}
