package store

import (
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
)

var (
	// ErrNotFound is returned when a contract, installment or payment does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when a record changed between read and write.
	ErrVersionConflict = errors.New("record was modified concurrently")
)

// Storage defines the interface for persisting contracts, their schedules and payments.
type Storage interface {
	// CreateContract stores a contract together with its full schedule, or nothing.
	CreateContract(contract *models.Contract, schedule []*models.ScheduleEntry) error
	GetContract(id uuid.UUID) (*models.Contract, error)
	GetAllContracts() ([]*models.Contract, error)
	GetAllActiveContracts() ([]*models.Contract, error)
	GetSchedule(contractID uuid.UUID) ([]*models.ScheduleEntry, error)

	// SaveContractState writes the contract, changed installments and an
	// optional payment decision in one transaction. The contract write is
	// checked against contract.Version and bumps it on success. Any of the
	// three may be nil or empty.
	SaveContractState(contract *models.Contract, entries []*models.ScheduleEntry, payment *models.Payment) error

	CreatePayment(payment *models.Payment) error
	GetPayment(id uuid.UUID) (*models.Payment, error)
	GetPaymentsForContract(contractID uuid.UUID) ([]*models.Payment, error)

	Close() error
}
