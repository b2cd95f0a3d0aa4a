package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ContractStatus string

const (
	ContractStatusActive    ContractStatus = "ACTIVE"
	ContractStatusCompleted ContractStatus = "COMPLETED"
	ContractStatusDefault   ContractStatus = "DEFAULT"
)

// IsTerminal reports whether the ledger stops maintaining the contract.
func (s ContractStatus) IsTerminal() bool {
	return s == ContractStatusCompleted || s == ContractStatusDefault
}

// Contract is one approved loan and its running totals.
type Contract struct {
	ID                 uuid.UUID       `json:"id"`
	CustomerKey        string          `json:"customer_key"`             // Link to external customer system
	CustomerEmail      string          `json:"customer_email,omitempty"` // Notification address, optional
	ApprovedAmount     decimal.Decimal `json:"approved_amount"`
	InterestRate       decimal.Decimal `json:"interest_rate"` // Flat percent per month, e.g. 1.5
	TermMonths         int             `json:"term_months"`
	PaymentDay         int             `json:"payment_day"` // Day of the month (1-28) installments fall due
	MonthlyPayment     decimal.Decimal `json:"monthly_payment"`
	TotalInterest      decimal.Decimal `json:"total_interest"`
	TotalDue           decimal.Decimal `json:"total_due"`
	TotalPaid          decimal.Decimal `json:"total_paid"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	DaysOverdue        int             `json:"days_overdue"`
	Status             ContractStatus  `json:"status"`
	StartDate          time.Time       `json:"start_date"`
	EndDate            time.Time       `json:"end_date"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	DefaultedAt        *time.Time      `json:"defaulted_at,omitempty"`
	LastEvaluatedOn    *time.Time      `json:"last_evaluated_on,omitempty"` // Business date of the last batch pass
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type ScheduleStatus string

const (
	ScheduleStatusPending ScheduleStatus = "PENDING"
	ScheduleStatusPaid    ScheduleStatus = "PAID"
	ScheduleStatusOverdue ScheduleStatus = "OVERDUE"
)

// ScheduleEntry is one installment of a contract's repayment plan.
type ScheduleEntry struct {
	ID                uuid.UUID       `json:"id"`
	ContractID        uuid.UUID       `json:"contract_id"`
	InstallmentNumber int             `json:"installment_number"`
	DueDate           time.Time       `json:"due_date"`
	PrincipalAmount   decimal.Decimal `json:"principal_amount"`
	InterestAmount    decimal.Decimal `json:"interest_amount"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	PaymentID         *uuid.UUID      `json:"payment_id,omitempty"`
	Status            ScheduleStatus  `json:"status"`
}

// IsUnpaid reports whether the installment still counts as an obligation.
func (e *ScheduleEntry) IsUnpaid() bool {
	return e.Status != ScheduleStatusPaid
}

type PaymentMethod string

const (
	PaymentMethodSlip   PaymentMethod = "SLIP"
	PaymentMethodManual PaymentMethod = "MANUAL"
)

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "PENDING"
	VerificationVerified VerificationStatus = "VERIFIED"
	VerificationRejected VerificationStatus = "REJECTED"
)

// SlipData is what the OCR provider read off a transfer slip.
type SlipData struct {
	Amount   decimal.Decimal `json:"amount"`
	Date     *time.Time      `json:"date,omitempty"`
	Bank     string          `json:"bank,omitempty"`
	ImageRef string          `json:"image_ref,omitempty"` // Opaque key in the slip file store
}

// Payment is a submitted payment claim awaiting or past staff verification.
type Payment struct {
	ID                 uuid.UUID          `json:"id"`
	ContractID         uuid.UUID          `json:"contract_id"`
	ScheduleEntryID    *uuid.UUID         `json:"schedule_entry_id,omitempty"`
	Amount             decimal.Decimal    `json:"amount"`
	PaymentDate        time.Time          `json:"payment_date"`
	Method             PaymentMethod      `json:"method"`
	Slip               *SlipData          `json:"slip,omitempty"`
	MatchReason        string             `json:"match_reason,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	VerifiedBy         string             `json:"verified_by,omitempty"`
	VerifiedAt         *time.Time         `json:"verified_at,omitempty"`
	RejectReason       string             `json:"reject_reason,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}
