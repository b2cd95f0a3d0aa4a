package engine

import "errors"

var (
	// ErrInvalidTerms is returned when loan terms violate the calculator's preconditions.
	ErrInvalidTerms = errors.New("invalid loan terms")

	// ErrInvalidTransition is returned when an installment would move out of a terminal state.
	ErrInvalidTransition = errors.New("invalid installment status transition")

	// ErrScheduleIntegrity is returned when a generated schedule does not add up to the contract total.
	ErrScheduleIntegrity = errors.New("schedule does not sum to total due")
)
