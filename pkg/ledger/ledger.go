// Package ledger runs the loan ledger on top of a Storage: it opens contracts
// with their schedules, takes in slips and manual payments, applies staff
// verification decisions and runs the daily batch.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/engine"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/notify"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	defaultWorkers    = 4
	defaultMaxRetries = 3
)

// Options tunes a Ledger. Zero values fall back to the defaults.
type Options struct {
	Logger           *logrus.Logger
	Notifier         notify.Notifier
	Location         *time.Location // Business timezone deciding what "today" is
	SlipTolerance    decimal.Decimal
	DefaultAfterDays int
	Workers          int // Contracts processed in parallel by the daily batch
	MaxRetries       int // Attempts for a verification that hits a version conflict
	Clock            func() time.Time
}

// Ledger handles the business logic for contracts, schedules and payments.
type Ledger struct {
	storage    store.Storage
	notifier   notify.Notifier
	logger     *logrus.Logger
	location   *time.Location
	tolerance  decimal.Decimal
	lifecycle  engine.Lifecycle
	workers    int
	maxRetries int
	now        func() time.Time

	locks   *contractLocks
	batchMu sync.Mutex
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts Options) *Ledger {
	l := &Ledger{
		storage:    s,
		notifier:   opts.Notifier,
		logger:     opts.Logger,
		location:   opts.Location,
		tolerance:  opts.SlipTolerance,
		lifecycle:  engine.Lifecycle{DefaultAfterDays: opts.DefaultAfterDays},
		workers:    opts.Workers,
		maxRetries: opts.MaxRetries,
		now:        opts.Clock,
		locks:      newContractLocks(),
	}
	if l.logger == nil {
		l.logger = logrus.StandardLogger()
	}
	if l.notifier == nil {
		l.notifier = notify.NewLogNotifier(l.logger)
	}
	if l.location == nil {
		l.location = time.UTC
	}
	if opts.SlipTolerance.IsZero() {
		l.tolerance = engine.DefaultSlipTolerance
	}
	if l.lifecycle.DefaultAfterDays <= 0 {
		l.lifecycle = engine.DefaultLifecycle()
	}
	if l.workers <= 0 {
		l.workers = defaultWorkers
	}
	if l.maxRetries <= 0 {
		l.maxRetries = defaultMaxRetries
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Today is the current calendar date in the business timezone.
func (l *Ledger) Today() time.Time {
	return engine.DateOf(l.now().In(l.location))
}

// CreateContractRequest carries an approved loan.
type CreateContractRequest struct {
	CustomerKey   string           `json:"customer_key"`
	CustomerEmail string           `json:"customer_email,omitempty"`
	Terms         engine.LoanTerms `json:"terms"`
}

// QuoteLoan amortizes terms without creating anything.
func (l *Ledger) QuoteLoan(terms engine.LoanTerms) (engine.Quote, error) {
	terms.StartDate = engine.DateOf(terms.StartDate)
	return engine.Amortize(terms)
}

// CreateContract opens an ACTIVE contract together with its full schedule.
// If the schedule cannot be generated or stored, no contract exists.
func (l *Ledger) CreateContract(req CreateContractRequest) (*models.Contract, []*models.ScheduleEntry, error) {
	if req.CustomerKey == "" {
		return nil, nil, fmt.Errorf("%w: customer key is required", engine.ErrInvalidTerms)
	}
	terms := req.Terms
	terms.StartDate = engine.DateOf(terms.StartDate)

	quote, err := engine.Amortize(terms)
	if err != nil {
		return nil, nil, err
	}

	id := uuid.New()
	schedule, err := engine.GenerateSchedule(id, terms)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate schedule: %w", err)
	}

	now := l.now()
	contract := &models.Contract{
		ID:                 id,
		CustomerKey:        req.CustomerKey,
		CustomerEmail:      req.CustomerEmail,
		ApprovedAmount:     terms.Principal,
		InterestRate:       terms.MonthlyRate,
		TermMonths:         terms.TermMonths,
		PaymentDay:         terms.PaymentDay,
		MonthlyPayment:     quote.MonthlyPayment,
		TotalInterest:      quote.TotalInterest,
		TotalDue:           quote.TotalDue,
		TotalPaid:          decimal.Zero,
		OutstandingBalance: quote.TotalDue,
		Status:             models.ContractStatusActive,
		StartDate:          terms.StartDate,
		EndDate:            quote.EndDate,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := l.storage.CreateContract(contract, schedule); err != nil {
		return nil, nil, fmt.Errorf("failed to store contract: %w", err)
	}

	l.contractLogger(contract).WithFields(logrus.Fields{
		"total_due":       contract.TotalDue.String(),
		"monthly_payment": contract.MonthlyPayment.String(),
		"term_months":     contract.TermMonths,
	}).Info("Contract created")
	return contract, schedule, nil
}

// GetContract retrieves a contract by its ID.
func (l *Ledger) GetContract(id uuid.UUID) (*models.Contract, error) {
	c, err := l.storage.GetContract(id)
	if err != nil {
		return nil, notFound("contract "+id.String(), err)
	}
	return c, nil
}

// ListContracts returns all contracts, or only those in status when it is set.
func (l *Ledger) ListContracts(status models.ContractStatus) ([]*models.Contract, error) {
	if status == models.ContractStatusActive {
		return l.storage.GetAllActiveContracts()
	}
	all, err := l.storage.GetAllContracts()
	if err != nil || status == "" {
		return all, err
	}
	filtered := make([]*models.Contract, 0, len(all))
	for _, c := range all {
		if c.Status == status {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

// GetSchedule returns a contract's installments in order.
func (l *Ledger) GetSchedule(contractID uuid.UUID) ([]*models.ScheduleEntry, error) {
	if _, err := l.GetContract(contractID); err != nil {
		return nil, err
	}
	return l.storage.GetSchedule(contractID)
}

// ListPayments returns every payment submitted against a contract.
func (l *Ledger) ListPayments(contractID uuid.UUID) ([]*models.Payment, error) {
	if _, err := l.GetContract(contractID); err != nil {
		return nil, err
	}
	return l.storage.GetPaymentsForContract(contractID)
}

// GetPayment retrieves a payment by its ID.
func (l *Ledger) GetPayment(id uuid.UUID) (*models.Payment, error) {
	p, err := l.storage.GetPayment(id)
	if err != nil {
		return nil, notFound("payment "+id.String(), err)
	}
	return p, nil
}

// SubmitSlip records a slip-backed payment claim. The slip amount is
// reconciled against the unpaid installments; a match only links the
// payment, which stays PENDING until staff verify it.
func (l *Ledger) SubmitSlip(contractID uuid.UUID, slip models.SlipData) (*models.Payment, engine.Match, error) {
	if !slip.Amount.IsPositive() {
		return nil, engine.Match{}, fmt.Errorf("%w: slip amount must be positive, got %s", ErrInvalidPayment, slip.Amount)
	}

	contract, err := l.GetContract(contractID)
	if err != nil {
		return nil, engine.Match{}, err
	}
	if contract.Status == models.ContractStatusCompleted {
		return nil, engine.Match{}, fmt.Errorf("%w: contract %s is %s", ErrInvalidState, contract.ID, contract.Status)
	}

	entries, err := l.storage.GetSchedule(contractID)
	if err != nil {
		return nil, engine.Match{}, fmt.Errorf("failed to load schedule: %w", err)
	}

	match := engine.Reconcile(slip.Amount, entries, l.tolerance)

	paymentDate := l.Today()
	if slip.Date != nil {
		d := engine.DateOf(*slip.Date)
		slip.Date = &d
		paymentDate = d
	}

	payment := &models.Payment{
		ID:                 uuid.New(),
		ContractID:         contractID,
		ScheduleEntryID:    match.EntryID,
		Amount:             slip.Amount,
		PaymentDate:        paymentDate,
		Method:             models.PaymentMethodSlip,
		Slip:               &slip,
		MatchReason:        string(match.Reason),
		VerificationStatus: models.VerificationPending,
		CreatedAt:          l.now(),
	}
	if err := l.storage.CreatePayment(payment); err != nil {
		return nil, engine.Match{}, fmt.Errorf("failed to store payment: %w", err)
	}

	log := l.contractLogger(contract).WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"amount":     slip.Amount.String(),
		"reason":     match.Reason,
	})
	if match.Matched() {
		log.WithField("installment", match.InstallmentNumber).Info("Slip matched installment, awaiting verification")
	} else {
		log.Info("Slip not matched, queued for manual review")
	}
	return payment, match, nil
}

// RecordManualPayment records a payment entered by staff, optionally linked
// to an installment. It is verified like any other payment.
func (l *Ledger) RecordManualPayment(contractID uuid.UUID, amount decimal.Decimal, date time.Time, entryID *uuid.UUID) (*models.Payment, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidPayment, amount)
	}

	contract, err := l.GetContract(contractID)
	if err != nil {
		return nil, err
	}
	if contract.Status == models.ContractStatusCompleted {
		return nil, fmt.Errorf("%w: contract %s is %s", ErrInvalidState, contract.ID, contract.Status)
	}

	if entryID != nil {
		entries, err := l.storage.GetSchedule(contractID)
		if err != nil {
			return nil, fmt.Errorf("failed to load schedule: %w", err)
		}
		if _, err := unpaidEntry(entries, *entryID); err != nil {
			return nil, err
		}
	}

	if date.IsZero() {
		date = l.Today()
	}
	payment := &models.Payment{
		ID:                 uuid.New(),
		ContractID:         contractID,
		ScheduleEntryID:    entryID,
		Amount:             amount,
		PaymentDate:        engine.DateOf(date),
		Method:             models.PaymentMethodManual,
		VerificationStatus: models.VerificationPending,
		CreatedAt:          l.now(),
	}
	if err := l.storage.CreatePayment(payment); err != nil {
		return nil, fmt.Errorf("failed to store payment: %w", err)
	}

	l.contractLogger(contract).WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"amount":     amount.String(),
	}).Info("Manual payment recorded, awaiting verification")
	return payment, nil
}

func unpaidEntry(entries []*models.ScheduleEntry, id uuid.UUID) (*models.ScheduleEntry, error) {
	for _, e := range entries {
		if e.ID != id {
			continue
		}
		if !e.IsUnpaid() {
			return nil, fmt.Errorf("%w: installment %d is already paid", ErrInvalidState, e.InstallmentNumber)
		}
		return e, nil
	}
	return nil, fmt.Errorf("%w: installment %s does not belong to the contract", ErrInvalidPayment, id)
}

// VerifyRequest is a staff decision on a pending payment.
type VerifyRequest struct {
	PaymentID  uuid.UUID  `json:"-"`
	Approve    bool       `json:"approve"`
	EntryID    *uuid.UUID `json:"entry_id,omitempty"` // Overrides the reconciled installment
	VerifiedBy string     `json:"verified_by"`
	Reason     string     `json:"reason,omitempty"` // Rejection reason
}

// VerifyPayment applies a staff decision. An approved payment is added to
// the contract's total paid, settles its linked installment if any, and may
// complete the contract. Each payment is decided once.
func (l *Ledger) VerifyPayment(req VerifyRequest) (*models.Payment, *models.Contract, error) {
	for attempt := 1; ; attempt++ {
		p, c, notes, err := l.verifyOnce(req)
		if err == nil {
			l.notify(notes...)
		}
		if !errors.Is(err, store.ErrVersionConflict) || attempt >= l.maxRetries {
			return p, c, err
		}
		l.logger.WithFields(logrus.Fields{
			"payment_id": req.PaymentID,
			"attempt":    attempt,
		}).Warn("Version conflict while verifying payment, retrying")
	}
}

// verifyOnce decides a payment under the contract lock and returns the
// notifications to send once the lock is released.
func (l *Ledger) verifyOnce(req VerifyRequest) (*models.Payment, *models.Contract, []notify.Notification, error) {
	payment, err := l.GetPayment(req.PaymentID)
	if err != nil {
		return nil, nil, nil, err
	}

	unlock := l.locks.lock(payment.ContractID)
	defer unlock()

	// Re-read under the lock so a decision made meanwhile is seen.
	payment, err = l.GetPayment(req.PaymentID)
	if err != nil {
		return nil, nil, nil, err
	}
	if payment.VerificationStatus != models.VerificationPending {
		return nil, nil, nil, fmt.Errorf("%w: payment %s is already %s", ErrInvalidState, payment.ID, payment.VerificationStatus)
	}

	contract, err := l.GetContract(payment.ContractID)
	if err != nil {
		return nil, nil, nil, err
	}

	now := l.now()
	payment.VerifiedBy = req.VerifiedBy
	payment.VerifiedAt = &now

	if !req.Approve {
		payment.VerificationStatus = models.VerificationRejected
		payment.RejectReason = req.Reason
		if err := l.storage.SaveContractState(nil, nil, payment); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to reject payment: %w", err)
		}
		l.contractLogger(contract).WithField("payment_id", payment.ID).Info("Payment rejected")
		return payment, contract, []notify.Notification{{Kind: notify.KindPaymentRejected, Contract: contract, Payment: payment}}, nil
	}

	if contract.Status == models.ContractStatusCompleted {
		return nil, nil, nil, fmt.Errorf("%w: contract %s is already %s", ErrInvalidState, contract.ID, contract.Status)
	}
	if !payment.Amount.IsPositive() {
		return nil, nil, nil, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidPayment, payment.Amount)
	}

	entries, err := l.storage.GetSchedule(contract.ID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load schedule: %w", err)
	}

	entryID := payment.ScheduleEntryID
	if req.EntryID != nil {
		entryID = req.EntryID
	}
	var changed []*models.ScheduleEntry
	if entryID != nil {
		entry, err := unpaidEntry(entries, *entryID)
		if err != nil {
			return nil, nil, nil, err
		}
		paymentID := payment.ID
		if err := engine.MarkPaid(entry, payment.Amount, now, &paymentID); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		changed = append(changed, entry)
	}

	payment.VerificationStatus = models.VerificationVerified
	payment.ScheduleEntryID = entryID

	previous := contract.Status
	contract.TotalPaid = contract.TotalPaid.Add(payment.Amount)
	ev := l.lifecycle.Recompute(entries, contract.TotalPaid, l.Today(), contract.Status)
	// Only the daily batch defaults a contract.
	if ev.NextStatus == models.ContractStatusDefault {
		ev.NextStatus = contract.Status
	}
	l.applyEvaluation(contract, ev, now)

	if err := l.storage.SaveContractState(contract, changed, payment); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to save verified payment: %w", err)
	}

	l.contractLogger(contract).WithFields(logrus.Fields{
		"payment_id":  payment.ID,
		"amount":      payment.Amount.String(),
		"total_paid":  contract.TotalPaid.String(),
		"outstanding": contract.OutstandingBalance.String(),
	}).Info("Payment verified")

	notes := []notify.Notification{{Kind: notify.KindPaymentVerified, Contract: contract, Payment: payment}}
	if previous != contract.Status && contract.Status == models.ContractStatusCompleted {
		notes = append(notes, notify.Notification{Kind: notify.KindContractCompleted, Contract: contract})
	}
	return payment, contract, notes, nil
}

// applyEvaluation copies a recomputation onto the contract and stamps a
// status change. It reports whether the status changed.
func (l *Ledger) applyEvaluation(c *models.Contract, ev engine.Evaluation, now time.Time) bool {
	if ev.Overpayment.IsPositive() {
		l.contractLogger(c).WithFields(logrus.Fields{
			"total_paid":  ev.TotalPaid.String(),
			"total_due":   ev.TotalDue.String(),
			"overpayment": ev.Overpayment.String(),
		}).Warn("Total paid exceeds total due, outstanding balance clamped to zero")
	}
	if !ev.TotalDue.Equal(c.TotalDue) {
		l.contractLogger(c).WithFields(logrus.Fields{
			"schedule_total": ev.TotalDue.String(),
			"total_due":      c.TotalDue.String(),
		}).Warn("Schedule total does not match contract total due")
	}

	c.OutstandingBalance = ev.Outstanding
	c.DaysOverdue = ev.DaysOverdue
	c.UpdatedAt = now
	if ev.NextStatus == c.Status {
		return false
	}
	c.Status = ev.NextStatus
	switch c.Status {
	case models.ContractStatusCompleted:
		c.CompletedAt = &now
	case models.ContractStatusDefault:
		c.DefaultedAt = &now
	}
	return true
}

// notify delivers notifications in order. Callers must not hold a contract lock.
func (l *Ledger) notify(notes ...notify.Notification) {
	for _, n := range notes {
		if err := l.notifier.Notify(n); err != nil {
			l.logger.WithFields(logrus.Fields{
				"kind":        n.Kind,
				"contract_id": n.Contract.ID,
			}).Errorf("Failed to deliver notification: %v", err)
		}
	}
}

func (l *Ledger) contractLogger(c *models.Contract) *logrus.Entry {
	return l.logger.WithFields(logrus.Fields{
		"contract_id":  c.ID,
		"customer_key": c.CustomerKey,
		"status":       c.Status,
	})
}
