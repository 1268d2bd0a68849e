package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaherBK/hr-sync/pkg/models"
	"github.com/ZaherBK/hr-sync/pkg/store"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := store.NewSQLiteStore(t.TempDir() + "/api.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewServer(s, nil, nil)
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	server.router().ServeHTTP(rr, req)
	return rr
}

func createTestLoan(t *testing.T, server *Server, employeeKey string) createLoanResponse {
	t.Helper()
	rr := doJSON(t, server, "POST", "/loans", map[string]any{
		"employee_key":    employeeKey,
		"principal":       "300",
		"interest_scheme": "none",
		"term_count":      3,
		"term_unit":       "month",
		"start_date":      "2025-01-15",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp createLoanResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestAPI_CreateAndGetLoan(t *testing.T) {
	server := setupTestServer(t)

	created := createTestLoan(t, server, "emp-1")
	assert.Equal(t, models.LoanStatusApproved, created.Loan.Status)
	require.Len(t, created.Schedule, 3)
	assert.True(t, created.Loan.ScheduledTotal.Equal(decimal.RequireFromString("300")))

	rr := doJSON(t, server, "GET", "/loans/"+created.Loan.ID.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var fetched models.Loan
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fetched))
	assert.Equal(t, created.Loan.ID, fetched.ID)
	assert.Equal(t, "emp-1", fetched.EmployeeKey)
}

func TestAPI_GetLoanNotFound(t *testing.T) {
	server := setupTestServer(t)

	rr := doJSON(t, server, "GET", "/loans/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, server, "GET", "/loans/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPI_CreateLoanValidation(t *testing.T) {
	server := setupTestServer(t)

	rr := doJSON(t, server, "POST", "/loans", map[string]any{
		"employee_key":    "emp-2",
		"principal":       "0",
		"interest_scheme": "none",
		"term_count":      3,
		"term_unit":       "month",
		"start_date":      "2025-01-15",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, server, "POST", "/loans", map[string]any{
		"employee_key":    "emp-2",
		"principal":       "100",
		"interest_scheme": "none",
		"term_count":      3,
		"term_unit":       "month",
		"start_date":      "15/01/2025",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPI_RepayCapsAmount(t *testing.T) {
	server := setupTestServer(t)
	created := createTestLoan(t, server, "emp-3")

	rr := doJSON(t, server, "POST", "/loans/"+created.Loan.ID.String()+"/repay", map[string]any{
		"amount":  "150",
		"source":  "payroll",
		"paid_on": "2025-01-31",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp repayResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Repayment.Amount.Equal(decimal.RequireFromString("100")),
		"persisted amount is the capped one, got %s", resp.Repayment.Amount)
	assert.Equal(t, models.InstallmentPaid, resp.Installment.Status)

	rr = doJSON(t, server, "GET", "/loans/"+created.Loan.ID.String()+"/repayments", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var repayments []*models.Repayment
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &repayments))
	require.Len(t, repayments, 1)
	assert.True(t, repayments[0].Amount.Equal(decimal.RequireFromString("100")))
}

func TestAPI_CancelAfterRepaymentConflicts(t *testing.T) {
	server := setupTestServer(t)
	created := createTestLoan(t, server, "emp-4")

	rr := doJSON(t, server, "POST", "/loans/"+created.Loan.ID.String()+"/repay", map[string]any{
		"amount":  "10",
		"source":  "cash",
		"paid_on": "2025-01-20",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doJSON(t, server, "POST", "/loans/"+created.Loan.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestAPI_ApproveThenSchedule(t *testing.T) {
	server := setupTestServer(t)
	created := createTestLoan(t, server, "emp-5")

	rr := doJSON(t, server, "POST", "/loans/"+created.Loan.ID.String()+"/approve", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var activated models.Loan
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &activated))
	assert.Equal(t, models.LoanStatusActive, activated.Status)

	rr = doJSON(t, server, "GET", "/loans/"+created.Loan.ID.String()+"/schedule", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var schedule []*models.Installment
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &schedule))
	require.Len(t, schedule, 3)
	assert.Equal(t, 1, schedule[0].SequenceNo)
}

func TestAPI_Settings(t *testing.T) {
	server := setupTestServer(t)

	rr := doJSON(t, server, "GET", "/settings", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var settings models.Settings
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &settings))
	assert.Equal(t, 1, settings.MaxConcurrentLoans)

	settings.GraceDays = 3
	settings.MaxConcurrentLoans = 2
	rr = doJSON(t, server, "PUT", "/settings", settings)
	require.Equal(t, http.StatusOK, rr.Code)

	// Second loan for the same employee is now allowed.
	createTestLoan(t, server, "emp-6")
	createTestLoan(t, server, "emp-6")
}

func TestAPI_ConcurrentLoanGuard(t *testing.T) {
	server := setupTestServer(t)
	createTestLoan(t, server, "emp-7")

	rr := doJSON(t, server, "POST", "/loans", map[string]any{
		"employee_key":    "emp-7",
		"principal":       "100",
		"interest_scheme": "none",
		"term_count":      2,
		"term_unit":       "month",
		"start_date":      "2025-02-01",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
