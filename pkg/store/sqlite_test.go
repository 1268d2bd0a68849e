package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ZaherBK/hr-sync/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbFile := t.TempDir() + "/loans.db"
	os.Remove(dbFile)

	s, err := NewSQLiteStore(dbFile)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testLoan(employeeKey string) *models.Loan {
	now := time.Now().UTC()
	return &models.Loan{
		ID:                   uuid.New(),
		EmployeeKey:          employeeKey,
		Principal:            decimal.RequireFromString("2000"),
		Scheme:               models.InterestFlat,
		AnnualRate:           decimal.RequireFromString("0.12"),
		TermCount:            10,
		TermUnit:             models.TermUnitMonth,
		StartDate:            time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC),
		Fee:                  decimal.Zero,
		Status:               models.LoanStatusApproved,
		CreatedAt:            now,
		UpdatedAt:            now,
		ScheduledTotal:       decimal.RequireFromString("2200"),
		RepaidTotal:          decimal.Zero,
		OutstandingPrincipal: decimal.RequireFromString("2000"),
	}
}

func testInstallment(loanID uuid.UUID, seq int, due time.Time) *models.Installment {
	return &models.Installment{
		ID:            uuid.New(),
		LoanID:        loanID,
		SequenceNo:    seq,
		DueDate:       due,
		DuePrincipal:  decimal.RequireFromString("200"),
		DueInterest:   decimal.RequireFromString("20"),
		DueTotal:      decimal.RequireFromString("220"),
		PaidPrincipal: decimal.Zero,
		PaidInterest:  decimal.Zero,
		PaidTotal:     decimal.Zero,
		Status:        models.InstallmentPending,
	}
}

func TestSQLiteStore_CreateAndGetLoan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	loan := testLoan("emp_test")
	due := time.Date(2025, time.February, 15, 0, 0, 0, 0, time.UTC)
	loan.NextDueOn = &due

	require.NoError(t, s.CreateLoan(ctx, loan))

	fetched, err := s.GetLoan(ctx, loan.ID)
	require.NoError(t, err)

	assert.Equal(t, loan.EmployeeKey, fetched.EmployeeKey)
	assert.Equal(t, loan.Scheme, fetched.Scheme)
	assert.Equal(t, loan.TermCount, fetched.TermCount)
	assert.True(t, fetched.Principal.Equal(loan.Principal), "decimal must round-trip through TEXT, got %s", fetched.Principal)
	assert.True(t, fetched.AnnualRate.Equal(loan.AnnualRate))
	assert.True(t, fetched.ScheduledTotal.Equal(loan.ScheduledTotal))
	require.NotNil(t, fetched.NextDueOn)
	assert.True(t, fetched.NextDueOn.Equal(due))
	assert.Nil(t, fetched.FirstDueOn)
}

func TestSQLiteStore_GetLoanNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetLoan(context.Background(), uuid.New())

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_UpdateLoan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	loan := testLoan("emp_upd")
	require.NoError(t, s.CreateLoan(ctx, loan))

	loan.Status = models.LoanStatusActive
	loan.RepaidTotal = decimal.RequireFromString("220")
	require.NoError(t, s.UpdateLoan(ctx, loan))

	fetched, err := s.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusActive, fetched.Status)
	assert.True(t, fetched.RepaidTotal.Equal(decimal.RequireFromString("220")))

	missing := testLoan("emp_missing")
	err = s.UpdateLoan(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListAndCountLoans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testLoan("emp_a")
	second := testLoan("emp_a")
	second.Status = models.LoanStatusPaid
	third := testLoan("emp_b")
	require.NoError(t, s.CreateLoan(ctx, first))
	require.NoError(t, s.CreateLoan(ctx, second))
	require.NoError(t, s.CreateLoan(ctx, third))

	all, err := s.ListLoans(ctx, LoanFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byEmployee, err := s.ListLoans(ctx, LoanFilter{EmployeeKey: "emp_a"})
	require.NoError(t, err)
	assert.Len(t, byEmployee, 2)

	byStatus, err := s.ListLoans(ctx, LoanFilter{Status: models.LoanStatusPaid, EmployeeKey: "emp_a"})
	require.NoError(t, err)
	assert.Len(t, byStatus, 1)

	open, err := s.CountLoans(ctx, "emp_a",
		[]models.LoanStatus{models.LoanStatusApproved, models.LoanStatusActive})
	require.NoError(t, err)
	assert.Equal(t, 1, open)
}

func TestSQLiteStore_Installments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	loan := testLoan("emp_ins")
	require.NoError(t, s.CreateLoan(ctx, loan))

	base := time.Date(2025, time.February, 15, 0, 0, 0, 0, time.UTC)
	rows := []*models.Installment{
		testInstallment(loan.ID, 1, base),
		testInstallment(loan.ID, 2, base.AddDate(0, 1, 0)),
		testInstallment(loan.ID, 3, base.AddDate(0, 2, 0)),
	}
	require.NoError(t, s.CreateInstallments(ctx, rows))

	fetched, err := s.GetInstallments(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, fetched, 3)
	for i, ins := range fetched {
		assert.Equal(t, i+1, ins.SequenceNo, "rows come back ordered by sequence")
		assert.True(t, ins.DueTotal.Equal(decimal.RequireFromString("220")))
	}

	paidOn := base.AddDate(0, 0, 3)
	fetched[0].PaidPrincipal = decimal.RequireFromString("200")
	fetched[0].PaidInterest = decimal.RequireFromString("20")
	fetched[0].PaidTotal = decimal.RequireFromString("220")
	fetched[0].PaidOn = &paidOn
	fetched[0].Status = models.InstallmentPaid
	require.NoError(t, s.UpdateInstallment(ctx, fetched[0]))

	again, err := s.GetInstallments(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstallmentPaid, again[0].Status)
	assert.True(t, again[0].PaidTotal.Equal(decimal.RequireFromString("220")))
	require.NotNil(t, again[0].PaidOn)
}

func TestSQLiteStore_ListOpenInstallmentsDueBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	loan := testLoan("emp_due")
	require.NoError(t, s.CreateLoan(ctx, loan))

	base := time.Date(2025, time.February, 15, 0, 0, 0, 0, time.UTC)
	early := testInstallment(loan.ID, 1, base)
	settled := testInstallment(loan.ID, 2, base)
	settled.Status = models.InstallmentPaid
	late := testInstallment(loan.ID, 3, base.AddDate(0, 2, 0))
	require.NoError(t, s.CreateInstallments(ctx, []*models.Installment{early, settled, late}))

	due, err := s.ListOpenInstallmentsDueBefore(ctx, base.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Len(t, due, 1, "only open rows before the cutoff qualify")
	assert.Equal(t, early.ID, due[0].ID)
}

func TestSQLiteStore_Repayments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	loan := testLoan("emp_rep")
	require.NoError(t, s.CreateLoan(ctx, loan))
	ins := testInstallment(loan.ID, 1, time.Date(2025, time.February, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, s.CreateInstallments(ctx, []*models.Installment{ins}))

	repayment := &models.Repayment{
		ID:            uuid.New(),
		LoanID:        loan.ID,
		InstallmentID: &ins.ID,
		Amount:        decimal.RequireFromString("150.505"),
		Source:        models.RepaymentSourcePayroll,
		PaidOn:        time.Date(2025, time.February, 20, 0, 0, 0, 0, time.UTC),
		Notes:         "payroll deduction",
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, s.CreateRepayment(ctx, repayment))

	repayments, err := s.GetRepaymentsForLoan(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, repayments, 1)
	assert.True(t, repayments[0].Amount.Equal(repayment.Amount))
	assert.Equal(t, models.RepaymentSourcePayroll, repayments[0].Source)
	require.NotNil(t, repayments[0].InstallmentID)
	assert.Equal(t, ins.ID, *repayments[0].InstallmentID)
}

func TestSQLiteStore_Settings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	settings, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, settings.MaxConcurrentLoans, "defaults are seeded on first run")
	assert.Equal(t, models.TermUnitMonth, settings.DefaultTermUnit)

	settings.MaxConcurrentLoans = 2
	settings.GraceDays = 7
	require.NoError(t, s.SaveSettings(ctx, settings))

	reloaded, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.MaxConcurrentLoans)
	assert.Equal(t, 7, reloaded.GraceDays)
}

func TestSQLiteStore_NotFoundIsUnwrappable(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetLoan(context.Background(), uuid.New())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}
