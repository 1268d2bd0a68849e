package store

import (
	"context"
	"errors"
	"time"

	"github.com/ZaherBK/hr-sync/pkg/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a referenced loan or installment does not
// exist. Callers unwrap it with errors.Is.
var ErrNotFound = errors.New("not found")

// LoanFilter narrows ListLoans. Zero values match everything.
type LoanFilter struct {
	Status      models.LoanStatus
	EmployeeKey string
}

// Storage defines the persistence operations for loans, installments,
// repayments and the settings row.
type Storage interface {
	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	UpdateLoan(ctx context.Context, loan *models.Loan) error
	ListLoans(ctx context.Context, filter LoanFilter) ([]*models.Loan, error)
	CountLoans(ctx context.Context, employeeKey string, statuses []models.LoanStatus) (int, error)

	CreateInstallments(ctx context.Context, installments []*models.Installment) error
	GetInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error)
	UpdateInstallment(ctx context.Context, installment *models.Installment) error
	ListOpenInstallmentsDueBefore(ctx context.Context, cutoff time.Time) ([]*models.Installment, error)

	CreateRepayment(ctx context.Context, repayment *models.Repayment) error
	GetRepaymentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Repayment, error)

	GetSettings(ctx context.Context) (*models.Settings, error)
	SaveSettings(ctx context.Context, settings *models.Settings) error

	Close() error
}
