package engine

import "time"

const day = 24 * time.Hour

// DateOf strips the time of day from t, keeping the calendar date as seen in
// t's own location. The result is midnight UTC so dates compare the same way
// no matter where the caller runs.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)) / day)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DueDate returns the date of installment n (1-based): paymentDay of the n-th
// month after start's month, clamped to the last day of a shorter month.
func DueDate(start time.Time, n, paymentDay int) time.Time {
	s := DateOf(start)
	first := time.Date(s.Year(), s.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	d := paymentDay
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}
