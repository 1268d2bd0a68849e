package ledger

import (
	"time"

	"github.com/ZaherBK/hr-sync/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	one           = decimal.NewFromInt(1)
	monthsPerYear = decimal.NewFromInt(12)
	weeksPerMonth = decimal.RequireFromString("4.333333333")
)

func periodsPerYear(unit models.TermUnit) int64 {
	if unit == models.TermUnitWeek {
		return 52
	}
	return 12
}

// nextDueDate advances one term from the previous due date: 7 days for weekly
// terms, one calendar month for monthly ones.
func nextDueDate(d time.Time, unit models.TermUnit) time.Time {
	if unit == models.TermUnitWeek {
		return d.AddDate(0, 0, 7)
	}
	return addCalendarMonth(d)
}

// addCalendarMonth clamps the day of month instead of letting Go normalize
// (Jan 31 + 1 month is Feb 28, not Mar 3).
func addCalendarMonth(d time.Time) time.Time {
	y, m, day := d.Date()
	// Day 0 of month m+2 is the last day of month m+1.
	last := time.Date(y, m+2, 0, 0, 0, 0, 0, d.Location()).Day()
	if day > last {
		day = last
	}
	return time.Date(y, m+1, day, 0, 0, 0, 0, d.Location())
}

// BuildSchedule turns the loan's terms into its ordered installment rows.
// Pure: it reads the loan and persists nothing.
//
// Rounding remainders always land on the last installment so that the summed
// principal reproduces the loan principal exactly. The one-time fee, if any,
// is added to installment #1's due total only, so due_total can exceed
// due_principal + due_interest on that row.
func BuildSchedule(loan *models.Loan) ([]*models.Installment, error) {
	start := loan.StartDate
	if loan.FirstDueOn != nil {
		start = *loan.FirstDueOn
	}
	dates := make([]time.Time, loan.TermCount)
	dates[0] = start
	for i := 1; i < loan.TermCount; i++ {
		dates[i] = nextDueDate(dates[i-1], loan.TermUnit)
	}

	p := roundAmount(loan.Principal)
	n := decimal.NewFromInt(int64(loan.TermCount))
	last := loan.TermCount - 1

	rows := make([]*models.Installment, 0, loan.TermCount)
	addRow := func(seq int, due time.Time, principal, interest decimal.Decimal) {
		rows = append(rows, &models.Installment{
			ID:            uuid.New(),
			LoanID:        loan.ID,
			SequenceNo:    seq,
			DueDate:       due,
			DuePrincipal:  principal,
			DueInterest:   interest,
			DueTotal:      roundAmount(principal.Add(interest)),
			PaidPrincipal: decimal.Zero,
			PaidInterest:  decimal.Zero,
			PaidTotal:     decimal.Zero,
			Status:        models.InstallmentPending,
		})
	}

	switch loan.Scheme {
	case models.InterestNone:
		base := roundAmount(p.Div(n))
		left := p
		for i, due := range dates {
			principal := base
			if i == last {
				principal = roundAmount(left)
			}
			addRow(i+1, due, principal, decimal.Zero)
			left = roundAmount(left.Sub(principal))
		}

	case models.InterestFlat:
		termMonths := n
		if loan.TermUnit == models.TermUnitWeek {
			termMonths = n.Div(weeksPerMonth)
		}
		totalInterest := roundAmount(p.Mul(loan.AnnualRate).Mul(termMonths.Div(monthsPerYear)))
		perInterest := roundAmount(totalInterest.Div(n))
		base := roundAmount(p.Div(n))
		left := p
		for i, due := range dates {
			principal, interest := base, perInterest
			if i == last {
				principal = roundAmount(left)
				interest = roundAmount(totalInterest.Sub(perInterest.Mul(decimal.NewFromInt(int64(last)))))
			}
			addRow(i+1, due, principal, interest)
			left = roundAmount(left.Sub(principal))
		}

	case models.InterestReducing:
		rPeriod := loan.AnnualRate.Div(decimal.NewFromInt(periodsPerYear(loan.TermUnit)))
		if !rPeriod.IsPositive() {
			return nil, ratef("reducing interest requires a positive periodic rate")
		}
		// Level payment A = P*r / (1 - (1+r)^-n).
		growth := one.Add(rPeriod).Pow(n)
		payment := roundAmount(p.Mul(rPeriod).Div(one.Sub(one.Div(growth))))
		balance := p
		for i, due := range dates {
			interest := roundAmount(balance.Mul(rPeriod))
			principal := roundAmount(payment.Sub(interest))
			if i == last {
				// Force the balance to exactly zero.
				principal = roundAmount(balance)
			}
			addRow(i+1, due, principal, interest)
			balance = roundAmount(balance.Sub(principal))
		}

	default:
		return nil, validationf("unknown interest scheme %q", loan.Scheme)
	}

	if loan.Fee.IsPositive() {
		rows[0].DueTotal = roundAmount(rows[0].DueTotal.Add(loan.Fee))
	}

	return rows, nil
}
