package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ZaherBK/hr-sync/pkg/models"
	"github.com/google/uuid"

	_ "github.com/mattn/go-sqlite3"
)

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

	// Manually enable foreign keys and WAL mode
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
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

// initSchema creates the tables if they don't already exist and seeds the
// single settings row. We use TEXT for decimal fields in SQLite to ensure no
// precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		employee_key TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest_scheme TEXT NOT NULL,
		annual_rate TEXT NOT NULL DEFAULT '0',
		term_count INTEGER NOT NULL,
		term_unit TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		first_due_on DATETIME,
		fee TEXT NOT NULL DEFAULT '0',
		notes TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		scheduled_total TEXT NOT NULL DEFAULT '0',
		repaid_total TEXT NOT NULL DEFAULT '0',
		outstanding_principal TEXT NOT NULL DEFAULT '0',
		next_due_on DATETIME
	);
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		sequence_no INTEGER NOT NULL,
		due_date DATETIME NOT NULL,
		due_principal TEXT NOT NULL,
		due_interest TEXT NOT NULL,
		due_total TEXT NOT NULL,
		paid_principal TEXT NOT NULL DEFAULT '0',
		paid_interest TEXT NOT NULL DEFAULT '0',
		paid_total TEXT NOT NULL DEFAULT '0',
		paid_on DATETIME,
		status TEXT NOT NULL,
		UNIQUE(loan_id, sequence_no),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS repayments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		installment_id TEXT,
		amount TEXT NOT NULL,
		source TEXT NOT NULL,
		paid_on DATETIME NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id),
		FOREIGN KEY(installment_id) REFERENCES installments(id)
	);
	CREATE TABLE IF NOT EXISTS loan_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		max_dti TEXT NOT NULL,
		max_concurrent_loans INTEGER NOT NULL,
		default_term_unit TEXT NOT NULL,
		grace_days INTEGER NOT NULL,
		penalty_rate TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	defaults := models.DefaultSettings()
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO loan_settings (id, max_dti, max_concurrent_loans, default_term_unit, grace_days, penalty_rate)
		VALUES (1, ?, ?, ?, ?, ?)`,
		defaults.MaxDTI, defaults.MaxConcurrentLoans, defaults.DefaultTermUnit, defaults.GraceDays, defaults.PenaltyRate,
	)
	return err
}

const loanColumns = `id, employee_key, principal, interest_scheme, annual_rate, term_count, term_unit,
	start_date, first_due_on, fee, notes, created_by, status, created_at, updated_at,
	scheduled_total, repaid_total, outstanding_principal, next_due_on`

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.EmployeeKey, loan.Principal, loan.Scheme, loan.AnnualRate,
		loan.TermCount, loan.TermUnit, loan.StartDate, nullableTime(loan.FirstDueOn), loan.Fee,
		loan.Notes, loan.CreatedBy, loan.Status, loan.CreatedAt, loan.UpdatedAt,
		loan.ScheduledTotal, loan.RepaidTotal, loan.OutstandingPrincipal, nullableTime(loan.NextDueOn),
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// UpdateLoan updates an existing loan in the database.
func (s *SQLiteStore) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE loans SET employee_key = ?, principal = ?, interest_scheme = ?, annual_rate = ?,
			term_count = ?, term_unit = ?, start_date = ?, first_due_on = ?, fee = ?, notes = ?,
			created_by = ?, status = ?, updated_at = ?, scheduled_total = ?, repaid_total = ?,
			outstanding_principal = ?, next_due_on = ?
		WHERE id = ?`,
		loan.EmployeeKey, loan.Principal, loan.Scheme, loan.AnnualRate,
		loan.TermCount, loan.TermUnit, loan.StartDate, nullableTime(loan.FirstDueOn), loan.Fee, loan.Notes,
		loan.CreatedBy, loan.Status, loan.UpdatedAt, loan.ScheduledTotal, loan.RepaidTotal,
		loan.OutstandingPrincipal, nullableTime(loan.NextDueOn), loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	return checkAffected(result, "loan")
}

// ListLoans retrieves loans matching the filter, newest first.
func (s *SQLiteStore) ListLoans(ctx context.Context, filter LoanFilter) ([]*models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans`
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.EmployeeKey != "" {
		conds = append(conds, "employee_key = ?")
		args = append(args, filter.EmployeeKey)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

// CountLoans counts the employee's loans in any of the given statuses.
func (s *SQLiteStore) CountLoans(ctx context.Context, employeeKey string, statuses []models.LoanStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	placeholders := strings.Repeat("?,", len(statuses))
	placeholders = placeholders[:len(placeholders)-1]
	args := []any{employeeKey}
	for _, st := range statuses {
		args = append(args, st)
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE employee_key = ? AND status IN (`+placeholders+`)`,
		args...,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count loans: %w", err)
	}
	return n, nil
}

const installmentColumns = `id, loan_id, sequence_no, due_date, due_principal, due_interest, due_total,
	paid_principal, paid_interest, paid_total, paid_on, status`

// CreateInstallments bulk-inserts a loan's schedule rows in one transaction.
func (s *SQLiteStore) CreateInstallments(ctx context.Context, installments []*models.Installment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO installments (`+installmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare installment insert: %w", err)
	}
	defer stmt.Close()

	for _, ins := range installments {
		_, err := stmt.ExecContext(ctx,
			ins.ID.String(), ins.LoanID.String(), ins.SequenceNo, ins.DueDate,
			ins.DuePrincipal, ins.DueInterest, ins.DueTotal,
			ins.PaidPrincipal, ins.PaidInterest, ins.PaidTotal,
			nullableTime(ins.PaidOn), ins.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to create installment %d: %w", ins.SequenceNo, err)
		}
	}
	return tx.Commit()
}

// GetInstallments retrieves a loan's installments ordered by sequence number.
func (s *SQLiteStore) GetInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+installmentColumns+` FROM installments WHERE loan_id = ? ORDER BY sequence_no ASC`,
		loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get installments for loan %s: %w", loanID, err)
	}
	defer rows.Close()
	return scanInstallments(rows)
}

// UpdateInstallment persists the mutable paid/status fields of one row.
func (s *SQLiteStore) UpdateInstallment(ctx context.Context, ins *models.Installment) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE installments SET paid_principal = ?, paid_interest = ?, paid_total = ?, paid_on = ?, status = ?
		WHERE id = ?`,
		ins.PaidPrincipal, ins.PaidInterest, ins.PaidTotal, nullableTime(ins.PaidOn), ins.Status,
		ins.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	return checkAffected(result, "installment")
}

// ListOpenInstallmentsDueBefore retrieves pending/partial rows with a due
// date strictly before the cutoff, for the overdue sweep.
func (s *SQLiteStore) ListOpenInstallmentsDueBefore(ctx context.Context, cutoff time.Time) ([]*models.Installment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+installmentColumns+` FROM installments
		WHERE status IN (?, ?) AND due_date < ?
		ORDER BY due_date ASC`,
		models.InstallmentPending, models.InstallmentPartial, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list due installments: %w", err)
	}
	defer rows.Close()
	return scanInstallments(rows)
}

// CreateRepayment appends one entry to the repayment ledger. Entries are
// never updated or deleted.
func (s *SQLiteStore) CreateRepayment(ctx context.Context, r *models.Repayment) error {
	var installmentID any
	if r.InstallmentID != nil {
		installmentID = r.InstallmentID.String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repayments (id, loan_id, installment_id, amount, source, paid_on, notes, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.LoanID.String(), installmentID, r.Amount, r.Source, r.PaidOn, r.Notes, r.CreatedBy, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create repayment: %w", err)
	}
	return nil
}

// GetRepaymentsForLoan retrieves all repayments for a given loan ID, oldest first.
func (s *SQLiteStore) GetRepaymentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Repayment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, loan_id, installment_id, amount, source, paid_on, notes, created_by, created_at
		FROM repayments WHERE loan_id = ? ORDER BY created_at ASC`,
		loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get repayments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var repayments []*models.Repayment
	for rows.Next() {
		var r models.Repayment
		var idStr, loanIDStr string
		var installmentID sql.NullString
		if err := rows.Scan(&idStr, &loanIDStr, &installmentID, &r.Amount, &r.Source, &r.PaidOn, &r.Notes, &r.CreatedBy, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan repayment row: %w", err)
		}
		r.ID = uuid.MustParse(idStr)
		r.LoanID = uuid.MustParse(loanIDStr)
		if installmentID.Valid {
			insID := uuid.MustParse(installmentID.String)
			r.InstallmentID = &insID
		}
		repayments = append(repayments, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return repayments, nil
}

// GetSettings retrieves the single settings row.
func (s *SQLiteStore) GetSettings(ctx context.Context) (*models.Settings, error) {
	var settings models.Settings
	err := s.db.QueryRowContext(ctx,
		`SELECT max_dti, max_concurrent_loans, default_term_unit, grace_days, penalty_rate
		FROM loan_settings WHERE id = 1`).
		Scan(&settings.MaxDTI, &settings.MaxConcurrentLoans, &settings.DefaultTermUnit,
			&settings.GraceDays, &settings.PenaltyRate)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return &settings, nil
}

// SaveSettings overwrites the single settings row.
func (s *SQLiteStore) SaveSettings(ctx context.Context, settings *models.Settings) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE loan_settings SET max_dti = ?, max_concurrent_loans = ?, default_term_unit = ?,
			grace_days = ?, penalty_rate = ? WHERE id = 1`,
		settings.MaxDTI, settings.MaxConcurrentLoans, settings.DefaultTermUnit,
		settings.GraceDays, settings.PenaltyRate,
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLoan(row scannable) (*models.Loan, error) {
	var loan models.Loan
	var idStr string
	var firstDueOn, nextDueOn sql.NullTime
	err := row.Scan(&idStr, &loan.EmployeeKey, &loan.Principal, &loan.Scheme, &loan.AnnualRate,
		&loan.TermCount, &loan.TermUnit, &loan.StartDate, &firstDueOn, &loan.Fee,
		&loan.Notes, &loan.CreatedBy, &loan.Status, &loan.CreatedAt, &loan.UpdatedAt,
		&loan.ScheduledTotal, &loan.RepaidTotal, &loan.OutstandingPrincipal, &nextDueOn)
	if err != nil {
		return nil, err
	}
	loan.ID = uuid.MustParse(idStr)
	if firstDueOn.Valid {
		loan.FirstDueOn = &firstDueOn.Time
	}
	if nextDueOn.Valid {
		loan.NextDueOn = &nextDueOn.Time
	}
	return &loan, nil
}

func scanInstallments(rows *sql.Rows) ([]*models.Installment, error) {
	var installments []*models.Installment
	for rows.Next() {
		var ins models.Installment
		var idStr, loanIDStr string
		var paidOn sql.NullTime
		if err := rows.Scan(&idStr, &loanIDStr, &ins.SequenceNo, &ins.DueDate,
			&ins.DuePrincipal, &ins.DueInterest, &ins.DueTotal,
			&ins.PaidPrincipal, &ins.PaidInterest, &ins.PaidTotal,
			&paidOn, &ins.Status); err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		ins.ID = uuid.MustParse(idStr)
		ins.LoanID = uuid.MustParse(loanIDStr)
		if paidOn.Valid {
			ins.PaidOn = &paidOn.Time
		}
		installments = append(installments, &ins)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return installments, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func checkAffected(result sql.Result, entity string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", entity, ErrNotFound)
	}
	return nil
}
