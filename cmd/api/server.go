package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanledger/pkg/engine"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

// Server holds the ledger instance.
type Server struct {
	ledger *ledger.Ledger
	logger *logrus.Logger
}

func NewServer(l *ledger.Ledger, logger *logrus.Logger) *Server {
	return &Server{
		ledger: l,
		logger: logger,
	}
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	router.HandleFunc("/quotes", s.require(CapViewLedger, s.quoteHandler)).Methods("POST")
	router.HandleFunc("/contracts", s.require(CapViewLedger, s.listContractsHandler)).Methods("GET")
	router.HandleFunc("/contracts", s.require(CapManageContracts, s.createContractHandler)).Methods("POST")
	router.HandleFunc("/contracts/{id}", s.require(CapViewLedger, s.getContractHandler)).Methods("GET")
	router.HandleFunc("/contracts/{id}/schedule", s.require(CapViewLedger, s.getScheduleHandler)).Methods("GET")
	router.HandleFunc("/contracts/{id}/payments", s.require(CapViewLedger, s.listPaymentsHandler)).Methods("GET")
	router.HandleFunc("/contracts/{id}/payments", s.require(CapManageContracts, s.recordPaymentHandler)).Methods("POST")
	router.HandleFunc("/contracts/{id}/slips", s.require(CapManageContracts, s.submitSlipHandler)).Methods("POST")
	router.HandleFunc("/payments/{id}/verify", s.require(CapVerifyPayments, s.verifyPaymentHandler)).Methods("POST")
	router.HandleFunc("/batch/daily", s.require(CapRunBatch, s.runBatchHandler)).Methods("POST")
	router.HandleFunc("/reports/aging", s.require(CapViewLedger, s.agingReportHandler)).Methods("GET")
	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("Request handled")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps ledger errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidTerms), errors.Is(err, ledger.ErrInvalidPayment):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidState),
		errors.Is(err, ledger.ErrBatchInProgress),
		errors.Is(err, store.ErrVersionConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.WithField("path", r.URL.Path).Errorf("Request failed: %v", err)
	}
	http.Error(w, err.Error(), status)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

// parseDate reads an optional YYYY-MM-DD value; empty yields the zero time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

type termsRequest struct {
	Principal   decimal.Decimal `json:"principal"`
	MonthlyRate decimal.Decimal `json:"rate_percent_per_month"`
	TermMonths  int             `json:"term_months"`
	PaymentDay  int             `json:"payment_day"`
	StartDate   string          `json:"start_date"`
}

func (t termsRequest) terms() (engine.LoanTerms, error) {
	start, err := parseDate(t.StartDate)
	if err != nil {
		return engine.LoanTerms{}, err
	}
	return engine.LoanTerms{
		Principal:   t.Principal,
		MonthlyRate: t.MonthlyRate,
		TermMonths:  t.TermMonths,
		PaymentDay:  t.PaymentDay,
		StartDate:   start,
	}, nil
}

func (s *Server) quoteHandler(w http.ResponseWriter, r *http.Request) {
	var req termsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	terms, err := req.terms()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	quote, err := s.ledger.QuoteLoan(terms)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

type contractResponse struct {
	Contract *models.Contract        `json:"contract"`
	Schedule []*models.ScheduleEntry `json:"schedule"`
}

func (s *Server) createContractHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerKey   string `json:"customer_key"`
		CustomerEmail string `json:"customer_email"`
		termsRequest
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	terms, err := req.terms()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	contract, schedule, err := s.ledger.CreateContract(ledger.CreateContractRequest{
		CustomerKey:   req.CustomerKey,
		CustomerEmail: req.CustomerEmail,
		Terms:         terms,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, contractResponse{Contract: contract, Schedule: schedule})
}

func (s *Server) listContractsHandler(w http.ResponseWriter, r *http.Request) {
	status := models.ContractStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.ContractStatusActive, models.ContractStatusCompleted, models.ContractStatusDefault:
	default:
		http.Error(w, fmt.Sprintf("Unknown status %q", status), http.StatusBadRequest)
		return
	}

	contracts, err := s.ledger.ListContracts(status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contracts)
}

func (s *Server) getContractHandler(w http.ResponseWriter, r *http.Request) {
	contractID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid contract ID", http.StatusBadRequest)
		return
	}

	contract, err := s.ledger.GetContract(contractID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contract)
}

func (s *Server) getScheduleHandler(w http.ResponseWriter, r *http.Request) {
	contractID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid contract ID", http.StatusBadRequest)
		return
	}

	entries, err := s.ledger.GetSchedule(contractID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	summary := engine.Summarize(entries, s.ledger.Today())
	writeJSON(w, http.StatusOK, struct {
		Entries []*models.ScheduleEntry `json:"entries"`
		Summary engine.ScheduleSummary  `json:"summary"`
	}{entries, summary})
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	contractID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid contract ID", http.StatusBadRequest)
		return
	}

	payments, err := s.ledger.ListPayments(contractID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (s *Server) submitSlipHandler(w http.ResponseWriter, r *http.Request) {
	contractID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid contract ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Amount   decimal.Decimal `json:"amount"`
		Date     string          `json:"date"`
		Bank     string          `json:"bank"`
		ImageRef string          `json:"image_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slip := models.SlipData{Amount: req.Amount, Bank: req.Bank, ImageRef: req.ImageRef}
	if req.Date != "" {
		d, err := parseDate(req.Date)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slip.Date = &d
	}

	payment, match, err := s.ledger.SubmitSlip(contractID, slip)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Payment *models.Payment `json:"payment"`
		Match   engine.Match    `json:"match"`
	}{payment, match})
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	contractID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid contract ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Amount  decimal.Decimal `json:"amount"`
		Date    string          `json:"date"`
		EntryID *uuid.UUID      `json:"entry_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		http.Error(w, "Amount must be positive", http.StatusBadRequest)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payment, err := s.ledger.RecordManualPayment(contractID, req.Amount, date, req.EntryID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (s *Server) verifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid payment ID", http.StatusBadRequest)
		return
	}

	var req ledger.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.PaymentID = paymentID
	if req.VerifiedBy == "" {
		req.VerifiedBy = r.Header.Get(staffHeader)
	}

	payment, contract, err := s.ledger.VerifyPayment(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Payment  *models.Payment  `json:"payment"`
		Contract *models.Contract `json:"contract"`
	}{payment, contract})
}

func (s *Server) runBatchHandler(w http.ResponseWriter, r *http.Request) {
	today := s.ledger.Today()
	if q := r.URL.Query().Get("date"); q != "" {
		d, err := parseDate(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		today = d
	}

	report, err := s.ledger.RunDailyBatch(today)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) agingReportHandler(w http.ResponseWriter, r *http.Request) {
	asOf := s.ledger.Today()
	if q := r.URL.Query().Get("as_of"); q != "" {
		d, err := parseDate(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		asOf = d
	}

	report, err := s.ledger.AgingReport(asOf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
