package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcclellann/loanledger/pkg/engine"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T) *mux.Router {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger, _ := test.NewNullLogger()
	l := ledger.NewLedger(s, ledger.Options{
		Logger: logger,
		Clock:  func() time.Time { return time.Date(2025, time.February, 1, 9, 0, 0, 0, time.UTC) },
	})
	return NewServer(l, logger).routes()
}

func call(t *testing.T, router *mux.Router, method, path string, role Role, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if role != "" {
		req.Header.Set(roleHeader, string(role))
	}
	req.Header.Set(staffHeader, "staff-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func contractBody() map[string]interface{} {
	return map[string]interface{}{
		"customer_key":           "test_cust",
		"principal":              "100000",
		"rate_percent_per_month": "1.5",
		"term_months":            12,
		"payment_day":            25,
		"start_date":             "2025-01-15",
	}
}

func createContract(t *testing.T, router *mux.Router) contractResponse {
	t.Helper()
	rr := call(t, router, "POST", "/contracts", RoleStaff, contractBody())
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created contractResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	return created
}

func TestAPI_Quote(t *testing.T) {
	router := setupTestServer(t)

	rr := call(t, router, "POST", "/quotes", RoleViewer, contractBody())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var q engine.Quote
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &q))
	assert.True(t, q.TotalDue.Equal(decimal.NewFromInt(118000)))
	assert.True(t, q.MonthlyPayment.Equal(decimal.NewFromInt(9833)))
	assert.Equal(t, "2025-02-25", q.FirstDueDate.Format(dateLayout))
}

func TestAPI_CreateAndGetContract(t *testing.T) {
	router := setupTestServer(t)
	created := createContract(t, router)

	assert.Equal(t, models.ContractStatusActive, created.Contract.Status)
	assert.True(t, created.Contract.TotalDue.Equal(decimal.NewFromInt(118000)))
	require.Len(t, created.Schedule, 12)

	rr := call(t, router, "GET", "/contracts/"+created.Contract.ID.String(), RoleViewer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var fetched models.Contract
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fetched))
	assert.Equal(t, created.Contract.ID, fetched.ID)

	rr = call(t, router, "GET", "/contracts/"+created.Contract.ID.String()+"/schedule", RoleViewer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var schedule struct {
		Entries []*models.ScheduleEntry `json:"entries"`
		Summary engine.ScheduleSummary  `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &schedule))
	assert.Len(t, schedule.Entries, 12)
	assert.Equal(t, 12, schedule.Summary.Pending)

	rr = call(t, router, "GET", "/contracts?status=ACTIVE", RoleViewer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var contracts []*models.Contract
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &contracts))
	assert.Len(t, contracts, 1)
}

func TestAPI_SlipAndVerify(t *testing.T) {
	router := setupTestServer(t)
	created := createContract(t, router)
	base := "/contracts/" + created.Contract.ID.String()

	rr := call(t, router, "POST", base+"/slips", RoleStaff, map[string]interface{}{
		"amount": "9900",
		"date":   "2025-02-20",
		"bank":   "SCB",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var submitted struct {
		Payment *models.Payment `json:"payment"`
		Match   engine.Match    `json:"match"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &submitted))
	require.True(t, submitted.Match.Matched())
	assert.Equal(t, created.Schedule[0].ID, *submitted.Match.EntryID)
	assert.Equal(t, models.VerificationPending, submitted.Payment.VerificationStatus)

	verifyPath := "/payments/" + submitted.Payment.ID.String() + "/verify"
	rr = call(t, router, "POST", verifyPath, RoleStaff, map[string]interface{}{"approve": true})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var verified struct {
		Payment  *models.Payment  `json:"payment"`
		Contract *models.Contract `json:"contract"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &verified))
	assert.Equal(t, models.VerificationVerified, verified.Payment.VerificationStatus)
	assert.Equal(t, "staff-7", verified.Payment.VerifiedBy)
	assert.True(t, verified.Contract.TotalPaid.Equal(decimal.NewFromInt(9900)))
	assert.True(t, verified.Contract.OutstandingBalance.Equal(decimal.NewFromInt(108100)))

	rr = call(t, router, "POST", verifyPath, RoleStaff, map[string]interface{}{"approve": true})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = call(t, router, "POST", base+"/payments", RoleStaff, map[string]interface{}{"amount": "500"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = call(t, router, "GET", base+"/payments", RoleViewer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var payments []*models.Payment
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payments))
	assert.Len(t, payments, 2)
}

func TestAPI_Errors(t *testing.T) {
	router := setupTestServer(t)
	created := createContract(t, router)

	body := contractBody()
	body["payment_day"] = 30
	rr := call(t, router, "POST", "/contracts", RoleStaff, body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	body = contractBody()
	body["start_date"] = "15/01/2025"
	rr = call(t, router, "POST", "/contracts", RoleStaff, body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = call(t, router, "GET", "/contracts/not-a-uuid", RoleViewer, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = call(t, router, "GET", "/contracts/00000000-0000-0000-0000-000000000001", RoleViewer, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = call(t, router, "POST", "/contracts/"+created.Contract.ID.String()+"/slips", RoleStaff, map[string]interface{}{"amount": "0"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = call(t, router, "GET", "/contracts?status=CLOSED", RoleViewer, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPI_CapabilityGate(t *testing.T) {
	router := setupTestServer(t)

	rr := call(t, router, "GET", "/contracts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = call(t, router, "GET", "/contracts", Role("AUDITOR"), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = call(t, router, "POST", "/contracts", RoleViewer, contractBody())
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = call(t, router, "POST", "/batch/daily", RoleStaff, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = call(t, router, "POST", "/batch/daily", RoleAdmin, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAPI_BatchAndAging(t *testing.T) {
	router := setupTestServer(t)
	created := createContract(t, router)

	rr := call(t, router, "POST", "/batch/daily?date=2025-03-01", RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var report ledger.BatchReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.NewlyOverdue)

	rr = call(t, router, "GET", "/contracts/"+created.Contract.ID.String(), RoleViewer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var fetched models.Contract
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fetched))
	assert.Equal(t, 4, fetched.DaysOverdue)

	rr = call(t, router, "GET", "/reports/aging?as_of=2025-03-01", RoleViewer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var aging ledger.AgingReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &aging))
	require.Len(t, aging.Buckets, 5)
	assert.Equal(t, engine.Aging1To30, aging.Buckets[1].Bucket)
	assert.Equal(t, 1, aging.Buckets[1].Contracts)
}

func TestRoleCan(t *testing.T) {
	tests := []struct {
		role Role
		cap  Capability
		want bool
	}{
		{RoleViewer, CapViewLedger, true},
		{RoleViewer, CapManageContracts, false},
		{RoleViewer, CapVerifyPayments, false},
		{RoleViewer, CapRunBatch, false},
		{RoleStaff, CapViewLedger, true},
		{RoleStaff, CapManageContracts, true},
		{RoleStaff, CapVerifyPayments, true},
		{RoleStaff, CapRunBatch, false},
		{RoleAdmin, CapRunBatch, true},
		{Role("GUEST"), CapViewLedger, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.role.Can(tt.cap), "%s %s", tt.role, tt.cap)
	}

	role, err := ParseRole(" staff ")
	require.NoError(t, err)
	assert.Equal(t, RoleStaff, role)
	_, err = ParseRole("root")
	assert.Error(t, err)
}
