package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"
)

const dateLayout = "2006-01-02"

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// One writer at a time; the ledger runs batch workers in parallel.
	db.SetMaxOpenConns(1)

	// Manually enable foreign keys and WAL mode
	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	_, err = db.Exec("PRAGMA journal_mode = WAL;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database tables if they don't already exist and adds new columns if necessary.
// Decimals are TEXT so no precision is lost; calendar dates are TEXT in YYYY-MM-DD.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		customer_key TEXT NOT NULL,
		approved_amount TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		term_months INTEGER NOT NULL,
		payment_day INTEGER NOT NULL,
		monthly_payment TEXT NOT NULL,
		total_interest TEXT NOT NULL,
		total_due TEXT NOT NULL,
		total_paid TEXT NOT NULL,
		outstanding_balance TEXT NOT NULL,
		days_overdue INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		completed_at DATETIME,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_contracts_status ON contracts(status);
	CREATE TABLE IF NOT EXISTS schedule_entries (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		installment_number INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		principal_amount TEXT NOT NULL,
		interest_amount TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL DEFAULT '0',
		paid_at DATETIME,
		payment_id TEXT,
		status TEXT NOT NULL,
		UNIQUE(contract_id, installment_number),
		FOREIGN KEY(contract_id) REFERENCES contracts(id)
	);
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		schedule_entry_id TEXT,
		amount TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		method TEXT NOT NULL,
		slip_amount TEXT,
		slip_date TEXT,
		slip_bank TEXT NOT NULL DEFAULT '',
		slip_image_ref TEXT NOT NULL DEFAULT '',
		match_reason TEXT NOT NULL DEFAULT '',
		verification_status TEXT NOT NULL,
		verified_by TEXT NOT NULL DEFAULT '',
		verified_at DATETIME,
		reject_reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY(contract_id) REFERENCES contracts(id)
	);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return err
	}

	// Columns added after the first release; older databases get them here.
	columns := []string{
		"customer_email TEXT NOT NULL DEFAULT ''",
		"defaulted_at DATETIME",
		"last_evaluated_on TEXT",
	}

	for _, col := range columns {
		_, err = s.db.Exec(fmt.Sprintf("ALTER TABLE contracts ADD COLUMN %s", col))
		if err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("failed to add column %s: %w", col, err)
		}
	}

	return nil
}

// isDuplicateColumnError checks if the error indicates a duplicate column.
func isDuplicateColumnError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "duplicate column name")
}

const contractColumns = `id, customer_key, customer_email, approved_amount, interest_rate, term_months, payment_day,
	monthly_payment, total_interest, total_due, total_paid, outstanding_balance, days_overdue, status,
	start_date, end_date, completed_at, defaulted_at, last_evaluated_on, version, created_at, updated_at`

// CreateContract inserts a contract and its schedule within a single transaction.
func (s *SQLiteStore) CreateContract(contract *models.Contract, schedule []*models.ScheduleEntry) error {
	if len(schedule) == 0 {
		return fmt.Errorf("contract %s has no schedule", contract.ID)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO contracts (`+contractColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		contract.ID.String(), contract.CustomerKey, contract.CustomerEmail, contract.ApprovedAmount, contract.InterestRate,
		contract.TermMonths, contract.PaymentDay, contract.MonthlyPayment, contract.TotalInterest, contract.TotalDue,
		contract.TotalPaid, contract.OutstandingBalance, contract.DaysOverdue, contract.Status,
		formatDate(contract.StartDate), formatDate(contract.EndDate), contract.CompletedAt, contract.DefaultedAt,
		nullableDate(contract.LastEvaluatedOn), contract.Version, contract.CreatedAt, contract.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create contract: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO schedule_entries (id, contract_id, installment_number, due_date, principal_amount, interest_amount, total_amount, paid_amount, paid_at, payment_id, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare schedule insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range schedule {
		_, err = stmt.Exec(
			e.ID.String(), e.ContractID.String(), e.InstallmentNumber, formatDate(e.DueDate), e.PrincipalAmount,
			e.InterestAmount, e.TotalAmount, e.PaidAmount, e.PaidAt, nullableUUID(e.PaymentID), e.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to create installment %d: %w", e.InstallmentNumber, err)
		}
	}

	return tx.Commit()
}

// GetContract retrieves a contract by its ID.
func (s *SQLiteStore) GetContract(id uuid.UUID) (*models.Contract, error) {
	row := s.db.QueryRow(`SELECT `+contractColumns+` FROM contracts WHERE id = ?`, id.String())
	contract, err := scanContract(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("contract %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	return contract, nil
}

// GetAllContracts retrieves all contracts.
func (s *SQLiteStore) GetAllContracts() ([]*models.Contract, error) {
	rows, err := s.db.Query(`SELECT ` + contractColumns + ` FROM contracts ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all contracts: %w", err)
	}
	defer rows.Close()

	return scanContracts(rows)
}

// GetAllActiveContracts retrieves all contracts the ledger still maintains.
func (s *SQLiteStore) GetAllActiveContracts() ([]*models.Contract, error) {
	rows, err := s.db.Query(`SELECT `+contractColumns+` FROM contracts WHERE status = ? ORDER BY created_at ASC`, models.ContractStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to get all active contracts: %w", err)
	}
	defer rows.Close()

	return scanContracts(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (*models.Contract, error) {
	var (
		c                        models.Contract
		idStr, start, end        string
		completedAt, defaultedAt sql.NullTime
		lastEvaluated            sql.NullString
	)
	err := row.Scan(&idStr, &c.CustomerKey, &c.CustomerEmail, &c.ApprovedAmount, &c.InterestRate, &c.TermMonths, &c.PaymentDay,
		&c.MonthlyPayment, &c.TotalInterest, &c.TotalDue, &c.TotalPaid, &c.OutstandingBalance, &c.DaysOverdue, &c.Status,
		&start, &end, &completedAt, &defaultedAt, &lastEvaluated, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if c.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("bad contract id %q: %w", idStr, err)
	}
	if c.StartDate, err = parseDate(start); err != nil {
		return nil, err
	}
	if c.EndDate, err = parseDate(end); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	if defaultedAt.Valid {
		c.DefaultedAt = &defaultedAt.Time
	}
	if lastEvaluated.Valid {
		d, err := parseDate(lastEvaluated.String)
		if err != nil {
			return nil, err
		}
		c.LastEvaluatedOn = &d
	}
	return &c, nil
}

func scanContracts(rows *sql.Rows) ([]*models.Contract, error) {
	var contracts []*models.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contract row: %w", err)
		}
		contracts = append(contracts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return contracts, nil
}

// GetSchedule retrieves a contract's installments in installment order.
func (s *SQLiteStore) GetSchedule(contractID uuid.UUID) ([]*models.ScheduleEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, contract_id, installment_number, due_date, principal_amount, interest_amount, total_amount, paid_amount, paid_at, payment_id, status
		FROM schedule_entries WHERE contract_id = ? ORDER BY installment_number ASC`, contractID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule for contract %s: %w", contractID, err)
	}
	defer rows.Close()

	var entries []*models.ScheduleEntry
	for rows.Next() {
		var (
			e                  models.ScheduleEntry
			idStr, cidStr, due string
			paidAt             sql.NullTime
			paymentID          sql.NullString
		)
		if err := rows.Scan(&idStr, &cidStr, &e.InstallmentNumber, &due, &e.PrincipalAmount, &e.InterestAmount,
			&e.TotalAmount, &e.PaidAmount, &paidAt, &paymentID, &e.Status); err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		e.ID = uuid.MustParse(idStr)
		e.ContractID = uuid.MustParse(cidStr)
		if e.DueDate, err = parseDate(due); err != nil {
			return nil, err
		}
		if paidAt.Valid {
			e.PaidAt = &paidAt.Time
		}
		if e.PaymentID, err = parseNullUUID(paymentID); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for schedule: %w", err)
	}
	return entries, nil
}

// SaveContractState persists a contract, its changed installments and an
// optional payment decision atomically.
func (s *SQLiteStore) SaveContractState(contract *models.Contract, entries []*models.ScheduleEntry, payment *models.Payment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if contract != nil {
		result, err := tx.Exec(
			`UPDATE contracts SET customer_email = ?, total_paid = ?, outstanding_balance = ?, days_overdue = ?, status = ?,
				completed_at = ?, defaulted_at = ?, last_evaluated_on = ?, updated_at = ?, version = version + 1
			WHERE id = ? AND version = ?`,
			contract.CustomerEmail, contract.TotalPaid, contract.OutstandingBalance, contract.DaysOverdue, contract.Status,
			contract.CompletedAt, contract.DefaultedAt, nullableDate(contract.LastEvaluatedOn), contract.UpdatedAt,
			contract.ID.String(), contract.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to update contract: %w", err)
		}
		if err := checkAffected(tx, result, "contracts", contract.ID); err != nil {
			return err
		}
	}

	for _, e := range entries {
		result, err := tx.Exec(
			`UPDATE schedule_entries SET paid_amount = ?, paid_at = ?, payment_id = ?, status = ? WHERE id = ? AND contract_id = ?`,
			e.PaidAmount, e.PaidAt, nullableUUID(e.PaymentID), e.Status, e.ID.String(), e.ContractID.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to update installment %d: %w", e.InstallmentNumber, err)
		}
		if err := checkAffected(tx, result, "schedule_entries", e.ID); err != nil {
			return err
		}
	}

	if payment != nil {
		// A payment is decided once; the PENDING guard catches a second decision.
		result, err := tx.Exec(
			`UPDATE payments SET schedule_entry_id = ?, verification_status = ?, verified_by = ?, verified_at = ?, reject_reason = ?
			WHERE id = ? AND verification_status = ?`,
			nullableUUID(payment.ScheduleEntryID), payment.VerificationStatus, payment.VerifiedBy, payment.VerifiedAt,
			payment.RejectReason, payment.ID.String(), models.VerificationPending,
		)
		if err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		if err := checkAffected(tx, result, "payments", payment.ID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contract state: %w", err)
	}
	if contract != nil {
		contract.Version++
	}
	return nil
}

// checkAffected tells a missing row apart from one whose guard did not match.
func checkAffected(tx *sql.Tx, result sql.Result, table string, id uuid.UUID) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}
	var exists int
	err = tx.QueryRow(`SELECT COUNT(1) FROM `+table+` WHERE id = ?`, id.String()).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check %s %s: %w", table, id, err)
	}
	if exists == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", table, id, ErrVersionConflict)
}

const paymentColumns = `id, contract_id, schedule_entry_id, amount, payment_date, method, slip_amount, slip_date, slip_bank,
	slip_image_ref, match_reason, verification_status, verified_by, verified_at, reject_reason, created_at`

// CreatePayment inserts a new payment claim.
func (s *SQLiteStore) CreatePayment(p *models.Payment) error {
	var slipAmount, slipDate any
	var slipBank, slipImage string
	if p.Slip != nil {
		slipAmount = p.Slip.Amount
		slipDate = nullableDate(p.Slip.Date)
		slipBank = p.Slip.Bank
		slipImage = p.Slip.ImageRef
	}
	_, err := s.db.Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.ContractID.String(), nullableUUID(p.ScheduleEntryID), p.Amount, formatDate(p.PaymentDate), p.Method,
		slipAmount, slipDate, slipBank, slipImage, p.MatchReason, p.VerificationStatus, p.VerifiedBy, p.VerifiedAt,
		p.RejectReason, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetPayment retrieves a payment by its ID.
func (s *SQLiteStore) GetPayment(id uuid.UUID) (*models.Payment, error) {
	row := s.db.QueryRow(`SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id.String())
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("payment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

// GetPaymentsForContract retrieves all payments for a given contract ID.
func (s *SQLiteStore) GetPaymentsForContract(contractID uuid.UUID) ([]*models.Payment, error) {
	rows, err := s.db.Query(`SELECT `+paymentColumns+` FROM payments WHERE contract_id = ? ORDER BY created_at ASC`, contractID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for contract %s: %w", contractID, err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for payments: %w", err)
	}
	return payments, nil
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p                          models.Payment
		idStr, cidStr, paymentDate string
		entryID, slipAmt, slipDate sql.NullString
		slipBank, slipImage        string
		verifiedAt                 sql.NullTime
	)
	err := row.Scan(&idStr, &cidStr, &entryID, &p.Amount, &paymentDate, &p.Method, &slipAmt, &slipDate, &slipBank,
		&slipImage, &p.MatchReason, &p.VerificationStatus, &p.VerifiedBy, &verifiedAt, &p.RejectReason, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.ID = uuid.MustParse(idStr)
	p.ContractID = uuid.MustParse(cidStr)
	if p.PaymentDate, err = parseDate(paymentDate); err != nil {
		return nil, err
	}
	if p.ScheduleEntryID, err = parseNullUUID(entryID); err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		p.VerifiedAt = &verifiedAt.Time
	}
	if slipAmt.Valid {
		amount, err := decimal.NewFromString(slipAmt.String)
		if err != nil {
			return nil, fmt.Errorf("bad slip amount %q: %w", slipAmt.String, err)
		}
		p.Slip = &models.SlipData{Amount: amount, Bank: slipBank, ImageRef: slipImage}
		if slipDate.Valid {
			d, err := parseDate(slipDate.String)
			if err != nil {
				return nil, err
			}
			p.Slip.Date = &d
		}
	}
	return &p, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q: %w", s, err)
	}
	return t, nil
}

func nullableDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatDate(*t)
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func parseNullUUID(s sql.NullString) (*uuid.UUID, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil, fmt.Errorf("bad id %q: %w", s.String, err)
	}
	return &id, nil
}
