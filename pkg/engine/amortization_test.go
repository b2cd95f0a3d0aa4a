package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleTerms() LoanTerms {
	return LoanTerms{
		Principal:   dec("100000"),
		MonthlyRate: dec("1.5"),
		TermMonths:  12,
		PaymentDay:  25,
		StartDate:   date(2025, time.January, 15),
	}
}

func TestAmortize(t *testing.T) {
	t.Run("flat rate example", func(t *testing.T) {
		q, err := Amortize(sampleTerms())
		require.NoError(t, err)
		assert.True(t, q.TotalInterest.Equal(dec("18000")), "total interest %s", q.TotalInterest)
		assert.True(t, q.TotalDue.Equal(dec("118000")), "total due %s", q.TotalDue)
		assert.True(t, q.MonthlyPayment.Equal(dec("9833")), "monthly %s", q.MonthlyPayment)
		assert.True(t, q.FinalPayment.Equal(dec("9837")), "final %s", q.FinalPayment)
		assert.Equal(t, date(2025, time.February, 25), q.FirstDueDate)
		assert.Equal(t, date(2026, time.January, 25), q.EndDate)
	})

	t.Run("rounding up is absorbed by a smaller final installment", func(t *testing.T) {
		q, err := Amortize(LoanTerms{
			Principal:   dec("200"),
			MonthlyRate: dec("0.5"),
			TermMonths:  3,
			PaymentDay:  1,
			StartDate:   date(2025, time.March, 1),
		})
		require.NoError(t, err)
		assert.True(t, q.TotalDue.Equal(dec("203")))
		assert.True(t, q.MonthlyPayment.Equal(dec("68")))
		assert.True(t, q.FinalPayment.Equal(dec("67")))
	})

	t.Run("single month term", func(t *testing.T) {
		q, err := Amortize(LoanTerms{
			Principal:   dec("5000"),
			MonthlyRate: dec("2"),
			TermMonths:  1,
			PaymentDay:  10,
			StartDate:   date(2025, time.December, 20),
		})
		require.NoError(t, err)
		assert.True(t, q.TotalDue.Equal(dec("5100")))
		assert.True(t, q.FinalPayment.Equal(q.TotalDue))
		assert.Equal(t, date(2026, time.January, 10), q.EndDate)
	})
}

func TestValidateTerms(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*LoanTerms)
	}{
		{"zero principal", func(lt *LoanTerms) { lt.Principal = decimal.Zero }},
		{"negative principal", func(lt *LoanTerms) { lt.Principal = dec("-1") }},
		{"zero rate", func(lt *LoanTerms) { lt.MonthlyRate = decimal.Zero }},
		{"zero term", func(lt *LoanTerms) { lt.TermMonths = 0 }},
		{"payment day zero", func(lt *LoanTerms) { lt.PaymentDay = 0 }},
		{"payment day 29", func(lt *LoanTerms) { lt.PaymentDay = 29 }},
		{"missing start date", func(lt *LoanTerms) { lt.StartDate = time.Time{} }},
		{"final installment short of its interest", func(lt *LoanTerms) {
			lt.Principal, lt.MonthlyRate, lt.TermMonths = dec("100"), dec("0.5"), 60
		}},
		{"final installment negative", func(lt *LoanTerms) {
			lt.Principal, lt.MonthlyRate, lt.TermMonths = dec("3"), dec("1"), 5
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terms := sampleTerms()
			tt.mutate(&terms)
			err := ValidateTerms(terms)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTerms))

			_, err = GenerateSchedule(uuid.New(), terms)
			assert.ErrorIs(t, err, ErrInvalidTerms)
		})
	}

	assert.NoError(t, ValidateTerms(sampleTerms()))
}

func TestDueDate(t *testing.T) {
	t.Run("clamps to the end of short months", func(t *testing.T) {
		assert.Equal(t, date(2024, time.February, 29), DueDate(date(2024, time.January, 10), 1, 30))
		assert.Equal(t, date(2025, time.February, 28), DueDate(date(2025, time.January, 10), 1, 31))
		assert.Equal(t, date(2025, time.April, 30), DueDate(date(2025, time.January, 10), 3, 31))
	})

	t.Run("rolls over the year", func(t *testing.T) {
		assert.Equal(t, date(2026, time.January, 5), DueDate(date(2025, time.December, 5), 1, 5))
		assert.Equal(t, date(2027, time.March, 5), DueDate(date(2025, time.December, 5), 15, 5))
	})

	t.Run("ignores time of day and zone of the start", func(t *testing.T) {
		bangkok := time.FixedZone("ICT", 7*60*60)
		start := time.Date(2025, time.May, 31, 23, 30, 0, 0, bangkok)
		assert.Equal(t, date(2025, time.June, 15), DueDate(start, 1, 15))
	})
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 10, DaysBetween(date(2025, time.March, 15), date(2025, time.March, 25)))
	assert.Equal(t, -10, DaysBetween(date(2025, time.March, 25), date(2025, time.March, 15)))
	assert.Equal(t, 0, DaysBetween(date(2025, time.March, 25), time.Date(2025, time.March, 25, 18, 0, 0, 0, time.UTC)))
	assert.Equal(t, 366, DaysBetween(date(2024, time.January, 1), date(2025, time.January, 1)))
}

func TestGenerateSchedule(t *testing.T) {
	t.Run("example schedule", func(t *testing.T) {
		contractID := uuid.New()
		entries, err := GenerateSchedule(contractID, sampleTerms())
		require.NoError(t, err)
		require.Len(t, entries, 12)

		first, last := entries[0], entries[11]
		assert.Equal(t, contractID, first.ContractID)
		assert.Equal(t, 1, first.InstallmentNumber)
		assert.Equal(t, date(2025, time.February, 25), first.DueDate)
		assert.True(t, first.PrincipalAmount.Equal(dec("8333")))
		assert.True(t, first.InterestAmount.Equal(dec("1500")))
		assert.True(t, first.TotalAmount.Equal(dec("9833")))
		assert.Equal(t, models.ScheduleStatusPending, first.Status)
		assert.True(t, first.PaidAmount.IsZero())

		assert.Equal(t, 12, last.InstallmentNumber)
		assert.True(t, last.PrincipalAmount.Equal(dec("8337")))
		assert.True(t, last.InterestAmount.Equal(dec("1500")))
		assert.True(t, last.TotalAmount.Equal(dec("9837")))
	})

	t.Run("schedule properties hold across terms", func(t *testing.T) {
		cases := []LoanTerms{
			sampleTerms(),
			{Principal: dec("100"), MonthlyRate: dec("1"), TermMonths: 3, PaymentDay: 28, StartDate: date(2024, time.January, 31)},
			{Principal: dec("7777.77"), MonthlyRate: dec("1.33"), TermMonths: 7, PaymentDay: 1, StartDate: date(2025, time.June, 1)},
			{Principal: dec("250000"), MonthlyRate: dec("0.99"), TermMonths: 36, PaymentDay: 15, StartDate: date(2025, time.November, 20)},
			{Principal: dec("1"), MonthlyRate: dec("0.1"), TermMonths: 24, PaymentDay: 10, StartDate: date(2025, time.February, 10)},
		}
		for _, terms := range cases {
			entries, err := GenerateSchedule(uuid.New(), terms)
			require.NoError(t, err)
			require.Len(t, entries, terms.TermMonths)

			q, err := Amortize(terms)
			require.NoError(t, err)

			principal, interest := decimal.Zero, decimal.Zero
			for i, e := range entries {
				assert.Equal(t, i+1, e.InstallmentNumber)
				assert.Equal(t, terms.PaymentDay, e.DueDate.Day())
				assert.True(t, e.TotalAmount.Equal(e.PrincipalAmount.Add(e.InterestAmount)))
				if i > 0 {
					prev := entries[i-1].DueDate
					assert.True(t, e.DueDate.After(prev))
					assert.Equal(t, prev.AddDate(0, 1, 0).Month(), e.DueDate.Month())
				}
				principal = principal.Add(e.PrincipalAmount)
				interest = interest.Add(e.InterestAmount)
			}
			assert.True(t, ScheduleTotal(entries).Equal(q.TotalDue), "sum %s != %s", ScheduleTotal(entries), q.TotalDue)
			assert.True(t, principal.Equal(terms.Principal))
			assert.True(t, interest.Equal(q.TotalInterest))
			assert.Equal(t, q.EndDate, entries[len(entries)-1].DueDate)
		}
	})

	t.Run("accepted terms never produce negative amounts", func(t *testing.T) {
		rates := []string{"0.1", "0.5", "1", "1.33", "3"}
		terms := []int{1, 2, 3, 5, 7, 12, 24, 60}
		for p := 1; p <= 400; p += 7 {
			for _, rate := range rates {
				for _, term := range terms {
					lt := LoanTerms{
						Principal:   decimal.NewFromInt(int64(p)),
						MonthlyRate: dec(rate),
						TermMonths:  term,
						PaymentDay:  5,
						StartDate:   date(2025, time.January, 1),
					}
					entries, err := GenerateSchedule(uuid.New(), lt)
					if err != nil {
						require.ErrorIs(t, err, ErrInvalidTerms, "%d at %s%% over %d", p, rate, term)
						continue
					}
					q, err := Amortize(lt)
					require.NoError(t, err)
					principal := decimal.Zero
					for _, e := range entries {
						assert.False(t, e.PrincipalAmount.IsNegative(), "%d at %s%% over %d: principal %s", p, rate, term, e.PrincipalAmount)
						assert.False(t, e.InterestAmount.IsNegative(), "%d at %s%% over %d: interest %s", p, rate, term, e.InterestAmount)
						assert.False(t, e.TotalAmount.IsNegative(), "%d at %s%% over %d: total %s", p, rate, term, e.TotalAmount)
						principal = principal.Add(e.PrincipalAmount)
					}
					assert.True(t, ScheduleTotal(entries).Equal(q.TotalDue))
					assert.True(t, principal.Equal(lt.Principal))
				}
			}
		}
	})
}
