package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZaherBK/hr-sync/pkg/models"
	"github.com/ZaherBK/hr-sync/pkg/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	minTermCount = 1
	maxTermCount = 480
)

// Ledger handles the business logic for employee loans: schedule generation,
// repayment allocation and the loan status lifecycle.
type Ledger struct {
	storage store.Storage
	log     *zap.Logger

	// Repayment allocation reads installment state it is about to mutate, so
	// mutating operations are serialized here rather than in the engine.
	mu sync.Mutex
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{storage: s, log: log}
}

// CreateLoanRequest carries the terms of a new employee loan.
type CreateLoanRequest struct {
	EmployeeKey string
	Principal   decimal.Decimal
	Scheme      models.InterestScheme
	AnnualRate  *decimal.Decimal
	TermCount   int
	TermUnit    models.TermUnit
	StartDate   time.Time
	FirstDueOn  *time.Time
	Fee         *decimal.Decimal
	Notes       string
	CreatedBy   string
}

// RepayRequest carries one incoming payment. InstallmentID nil means "apply
// to the oldest open installment".
type RepayRequest struct {
	LoanID        uuid.UUID
	InstallmentID *uuid.UUID
	Amount        decimal.Decimal
	Source        models.RepaymentSource
	PaidOn        time.Time
	Notes         string
	CreatedBy     string
}

func (l *Ledger) validateCreate(req *CreateLoanRequest, settings *models.Settings) error {
	if req.EmployeeKey == "" {
		return validationf("employee_key is required")
	}
	if !req.Principal.IsPositive() {
		return validationf("principal must be positive")
	}
	if !req.Scheme.Valid() {
		return validationf("unknown interest scheme %q", req.Scheme)
	}
	if req.TermCount < minTermCount || req.TermCount > maxTermCount {
		return validationf("term_count must be between %d and %d", minTermCount, maxTermCount)
	}
	if req.TermUnit == "" {
		req.TermUnit = settings.DefaultTermUnit
	}
	if !req.TermUnit.Valid() {
		return validationf("unknown term unit %q", req.TermUnit)
	}
	if req.Scheme != models.InterestNone {
		if req.AnnualRate == nil || !req.AnnualRate.IsPositive() {
			return validationf("annual_rate must be positive for %s interest", req.Scheme)
		}
	}
	if req.Fee != nil && req.Fee.IsNegative() {
		return validationf("fee cannot be negative")
	}
	if req.StartDate.IsZero() {
		return validationf("start_date is required")
	}
	return nil
}

// CreateLoan validates the request, generates the repayment schedule and
// persists the loan in status approved together with its installments.
func (l *Ledger) CreateLoan(ctx context.Context, req CreateLoanRequest) (*models.Loan, []*models.Installment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	settings, err := l.storage.GetSettings(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load loan settings: %w", err)
	}
	if err := l.validateCreate(&req, settings); err != nil {
		return nil, nil, err
	}

	if settings.MaxConcurrentLoans == 1 {
		open, err := l.storage.CountLoans(ctx, req.EmployeeKey,
			[]models.LoanStatus{models.LoanStatusApproved, models.LoanStatusActive})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to count open loans: %w", err)
		}
		if open > 0 {
			return nil, nil, validationf("employee %s already has an open loan", req.EmployeeKey)
		}
	}

	now := time.Now()
	rate := decimal.Zero
	if req.AnnualRate != nil {
		rate = *req.AnnualRate
	}
	fee := decimal.Zero
	if req.Fee != nil {
		fee = *req.Fee
	}
	loan := &models.Loan{
		ID:          uuid.New(),
		EmployeeKey: req.EmployeeKey,
		Principal:   roundAmount(req.Principal),
		Scheme:      req.Scheme,
		AnnualRate:  rate,
		TermCount:   req.TermCount,
		TermUnit:    req.TermUnit,
		StartDate:   req.StartDate,
		FirstDueOn:  req.FirstDueOn,
		Fee:         fee,
		Notes:       req.Notes,
		CreatedBy:   req.CreatedBy,
		Status:      models.LoanStatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	installments, err := BuildSchedule(loan)
	if err != nil {
		return nil, nil, err
	}

	if err := transition(loan, models.LoanStatusApproved); err != nil {
		return nil, nil, err
	}
	Recompute(loan, installments)

	if err := l.storage.CreateLoan(ctx, loan); err != nil {
		return nil, nil, fmt.Errorf("failed to store loan: %w", err)
	}
	if err := l.storage.CreateInstallments(ctx, installments); err != nil {
		return nil, nil, fmt.Errorf("failed to store schedule: %w", err)
	}

	l.log.Info("loan created",
		zap.String("loan_id", loan.ID.String()),
		zap.String("employee_key", loan.EmployeeKey),
		zap.String("principal", loan.Principal.StringFixed(2)),
		zap.Int("installments", len(installments)))
	return loan, installments, nil
}

// Repay applies one payment to the loan. The amount may be silently capped to
// the target installment's remaining due; the returned Repayment records the
// applied amount, not the requested one.
func (l *Ledger) Repay(ctx context.Context, req RepayRequest) (*models.Repayment, *models.Installment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !req.Amount.IsPositive() {
		return nil, nil, validationf("amount must be positive")
	}
	if !req.Source.Valid() {
		return nil, nil, validationf("unknown repayment source %q", req.Source)
	}
	if req.PaidOn.IsZero() {
		return nil, nil, validationf("paid_on is required")
	}

	loan, err := l.getLoan(ctx, req.LoanID)
	if err != nil {
		return nil, nil, err
	}
	if !repayable(loan.Status) {
		return nil, nil, statef("loan is not active")
	}

	installments, err := l.storage.GetInstallments(ctx, loan.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load schedule: %w", err)
	}

	target, err := selectTarget(installments, req.InstallmentID)
	if err != nil {
		return nil, nil, err
	}

	applied := allocate(target, req.Amount, req.PaidOn)

	repayment := &models.Repayment{
		ID:            uuid.New(),
		LoanID:        loan.ID,
		InstallmentID: &target.ID,
		Amount:        applied,
		Source:        req.Source,
		PaidOn:        req.PaidOn,
		Notes:         req.Notes,
		CreatedBy:     req.CreatedBy,
		CreatedAt:     time.Now(),
	}

	if err := l.storage.UpdateInstallment(ctx, target); err != nil {
		return nil, nil, fmt.Errorf("failed to update installment: %w", err)
	}
	if err := l.storage.CreateRepayment(ctx, repayment); err != nil {
		return nil, nil, fmt.Errorf("failed to store repayment: %w", err)
	}

	Recompute(loan, installments)
	if fullySettled(loan, installments) {
		if err := transition(loan, models.LoanStatusPaid); err != nil {
			return nil, nil, err
		}
		l.log.Info("loan fully repaid", zap.String("loan_id", loan.ID.String()))
	}
	loan.UpdatedAt = time.Now()
	if err := l.storage.UpdateLoan(ctx, loan); err != nil {
		return nil, nil, fmt.Errorf("failed to update loan totals: %w", err)
	}

	return repayment, target, nil
}

// Activate promotes an approved (or draft) loan to active.
func (l *Ledger) Activate(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.changeStatus(ctx, id, models.LoanStatusActive)
}

// Cancel voids a loan. Only permitted before any repayment has been applied.
func (l *Ledger) Cancel(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.changeStatus(ctx, id, models.LoanStatusCanceled)
}

// MarkDefaulted is the terminal transition used by external collections
// processes; the ledger never enters it on its own.
func (l *Ledger) MarkDefaulted(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.changeStatus(ctx, id, models.LoanStatusDefaulted)
}

func (l *Ledger) changeStatus(ctx context.Context, id uuid.UUID, to models.LoanStatus) (*models.Loan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	loan, err := l.getLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := transition(loan, to); err != nil {
		return nil, err
	}
	loan.UpdatedAt = time.Now()
	if err := l.storage.UpdateLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to update loan status: %w", err)
	}
	l.log.Info("loan status changed",
		zap.String("loan_id", loan.ID.String()),
		zap.String("status", string(to)))
	return loan, nil
}

// MarkOverdue flags every open installment whose due date fell more than the
// configured grace days before asOf. Run by a scheduled sweep, never by the
// repayment path. Idempotent; returns the number of rows flagged.
func (l *Ledger) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	settings, err := l.storage.GetSettings(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load loan settings: %w", err)
	}
	cutoff := asOf.AddDate(0, 0, -settings.GraceDays)

	due, err := l.storage.ListOpenInstallmentsDueBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list due installments: %w", err)
	}

	flagged := 0
	for _, ins := range due {
		if ins.Status == models.InstallmentOverdue {
			continue
		}
		ins.Status = models.InstallmentOverdue
		if err := l.storage.UpdateInstallment(ctx, ins); err != nil {
			return flagged, fmt.Errorf("failed to flag installment %s: %w", ins.ID, err)
		}
		flagged++
	}
	if flagged > 0 {
		l.log.Info("installments marked overdue", zap.Int("count", flagged), zap.Time("as_of", asOf))
	}
	return flagged, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.getLoan(ctx, id)
}

// ListLoans retrieves loans matching the filter, newest first.
func (l *Ledger) ListLoans(ctx context.Context, filter store.LoanFilter) ([]*models.Loan, error) {
	return l.storage.ListLoans(ctx, filter)
}

// GetSchedule retrieves the loan's installments ordered by sequence number.
func (l *Ledger) GetSchedule(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	if _, err := l.getLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return l.storage.GetInstallments(ctx, loanID)
}

// GetRepayments retrieves the loan's repayment ledger, oldest first.
func (l *Ledger) GetRepayments(ctx context.Context, loanID uuid.UUID) ([]*models.Repayment, error) {
	if _, err := l.getLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return l.storage.GetRepaymentsForLoan(ctx, loanID)
}

// GetSettings retrieves the process-wide loan settings row.
func (l *Ledger) GetSettings(ctx context.Context) (*models.Settings, error) {
	return l.storage.GetSettings(ctx)
}

// UpdateSettings validates and persists the settings row.
func (l *Ledger) UpdateSettings(ctx context.Context, settings *models.Settings) error {
	if settings.MaxConcurrentLoans < 0 {
		return validationf("max_concurrent_loans cannot be negative")
	}
	if settings.GraceDays < 0 {
		return validationf("grace_days cannot be negative")
	}
	if !settings.DefaultTermUnit.Valid() {
		return validationf("unknown term unit %q", settings.DefaultTermUnit)
	}
	if settings.MaxDTI.IsNegative() || settings.PenaltyRate.IsNegative() {
		return validationf("rates cannot be negative")
	}
	return l.storage.SaveSettings(ctx, settings)
}

func (l *Ledger) getLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundf("loan %s not found", id)
		}
		return nil, err
	}
	return loan, nil
}
