package ledger

import (
	"errors"
	"fmt"

	"github.com/mcclellann/loanledger/pkg/store"
)

var (
	// ErrNotFound is returned when a contract, installment or payment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when an operation does not apply to the
	// current state of a contract, installment or payment.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidPayment is returned for a payment amount or installment link
	// that cannot be accepted.
	ErrInvalidPayment = errors.New("invalid payment")

	// ErrBatchInProgress is returned when a daily batch is started while
	// another one is still running.
	ErrBatchInProgress = errors.New("daily batch already in progress")
)

// notFound translates a storage miss into ErrNotFound.
func notFound(what string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
