package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InterestScheme string

const (
	InterestNone     InterestScheme = "none"
	InterestFlat     InterestScheme = "flat"
	InterestReducing InterestScheme = "reducing"
)

func (s InterestScheme) Valid() bool {
	switch s {
	case InterestNone, InterestFlat, InterestReducing:
		return true
	}
	return false
}

type TermUnit string

const (
	TermUnitWeek  TermUnit = "week"
	TermUnitMonth TermUnit = "month"
)

func (u TermUnit) Valid() bool {
	return u == TermUnitWeek || u == TermUnitMonth
}

type LoanStatus string

const (
	LoanStatusDraft     LoanStatus = "draft"
	LoanStatusApproved  LoanStatus = "approved"
	LoanStatusActive    LoanStatus = "active"
	LoanStatusPaid      LoanStatus = "paid"
	LoanStatusDefaulted LoanStatus = "defaulted"
	LoanStatusCanceled  LoanStatus = "canceled"
)

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPartial InstallmentStatus = "partial"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentOverdue InstallmentStatus = "overdue"
)

// Open reports whether the installment can still receive a payment.
func (s InstallmentStatus) Open() bool {
	return s == InstallmentPending || s == InstallmentPartial || s == InstallmentOverdue
}

type RepaymentSource string

const (
	RepaymentSourcePayroll    RepaymentSource = "payroll"
	RepaymentSourceCash       RepaymentSource = "cash"
	RepaymentSourceAdjustment RepaymentSource = "adjustment"
)

func (s RepaymentSource) Valid() bool {
	switch s {
	case RepaymentSourcePayroll, RepaymentSourceCash, RepaymentSourceAdjustment:
		return true
	}
	return false
}

type Loan struct {
	ID          uuid.UUID       `json:"id"`
	EmployeeKey string          `json:"employee_key"` // Link to external HR employee record
	Principal   decimal.Decimal `json:"principal"`
	Scheme      InterestScheme  `json:"interest_scheme"`
	AnnualRate  decimal.Decimal `json:"annual_rate"` // Zero when Scheme is "none"
	TermCount   int             `json:"term_count"`
	TermUnit    TermUnit        `json:"term_unit"`
	StartDate   time.Time       `json:"start_date"`
	FirstDueOn  *time.Time      `json:"first_due_on,omitempty"` // Overrides StartDate for installment #1
	Fee         decimal.Decimal `json:"fee"`                    // One-time fee, charged on installment #1
	Notes       string          `json:"notes,omitempty"`
	CreatedBy   string          `json:"created_by,omitempty"`
	Status      LoanStatus      `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	// Derived totals, recomputed from the installment set after every mutation.
	ScheduledTotal       decimal.Decimal `json:"scheduled_total"`
	RepaidTotal          decimal.Decimal `json:"repaid_total"`
	OutstandingPrincipal decimal.Decimal `json:"outstanding_principal"`
	NextDueOn            *time.Time      `json:"next_due_on,omitempty"`
}

type Installment struct {
	ID         uuid.UUID `json:"id"`
	LoanID     uuid.UUID `json:"loan_id"`
	SequenceNo int       `json:"sequence_no"`
	DueDate    time.Time `json:"due_date"`

	DuePrincipal decimal.Decimal `json:"due_principal"`
	DueInterest  decimal.Decimal `json:"due_interest"`
	DueTotal     decimal.Decimal `json:"due_total"` // Includes the loan fee on installment #1

	PaidPrincipal decimal.Decimal `json:"paid_principal"`
	PaidInterest  decimal.Decimal `json:"paid_interest"`
	PaidTotal     decimal.Decimal `json:"paid_total"`
	PaidOn        *time.Time      `json:"paid_on,omitempty"`

	Status InstallmentStatus `json:"status"`
}

// Remaining is the amount still owed on the installment.
func (i *Installment) Remaining() decimal.Decimal {
	return i.DueTotal.Sub(i.PaidTotal)
}

// Repayment is an append-only ledger entry. Amount is the applied (capped)
// amount, not the requested one.
type Repayment struct {
	ID            uuid.UUID       `json:"id"`
	LoanID        uuid.UUID       `json:"loan_id"`
	InstallmentID *uuid.UUID      `json:"installment_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Source        RepaymentSource `json:"source"`
	PaidOn        time.Time       `json:"paid_on"`
	Notes         string          `json:"notes,omitempty"`
	CreatedBy     string          `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Settings is the single process-wide loan configuration row.
type Settings struct {
	MaxDTI             decimal.Decimal `json:"max_dti"`
	MaxConcurrentLoans int             `json:"max_concurrent_loans"`
	DefaultTermUnit    TermUnit        `json:"default_term_unit"`
	GraceDays          int             `json:"grace_days"`
	PenaltyRate        decimal.Decimal `json:"penalty_rate"`
}

// DefaultSettings mirrors the values seeded on first run.
func DefaultSettings() *Settings {
	return &Settings{
		MaxDTI:             decimal.RequireFromString("0.30"),
		MaxConcurrentLoans: 1,
		DefaultTermUnit:    TermUnitMonth,
		GraceDays:          0,
		PenaltyRate:        decimal.Zero,
	}
}
