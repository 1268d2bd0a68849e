package ledger

import (
	"github.com/ZaherBK/hr-sync/pkg/models"
	"github.com/shopspring/decimal"
)

// Recompute refreshes the loan's derived totals from the given installment
// set. Callers must pass the authoritative current set, never a stale copy:
// it runs after schedule creation and after every repayment.
func Recompute(loan *models.Loan, installments []*models.Installment) {
	scheduled := decimal.Zero
	repaid := decimal.Zero
	paidPrincipal := decimal.Zero

	var next *models.Installment
	for _, ins := range installments {
		scheduled = scheduled.Add(ins.DueTotal)
		repaid = repaid.Add(ins.PaidTotal)
		paidPrincipal = paidPrincipal.Add(ins.PaidPrincipal)
		if ins.Status.Open() && (next == nil || ins.SequenceNo < next.SequenceNo) {
			next = ins
		}
	}

	loan.ScheduledTotal = roundAmount(scheduled)
	loan.RepaidTotal = roundAmount(repaid)
	// Outstanding principal is measured against the loan principal, not the
	// due amounts, so interest never affects it.
	loan.OutstandingPrincipal = roundAmount(loan.Principal.Sub(paidPrincipal))
	if next != nil {
		due := next.DueDate
		loan.NextDueOn = &due
	} else {
		loan.NextDueOn = nil
	}
}

// fullySettled reports whether no principal remains and every installment is
// paid, i.e. the loan can close.
func fullySettled(loan *models.Loan, installments []*models.Installment) bool {
	if loan.OutstandingPrincipal.IsPositive() {
		return false
	}
	for _, ins := range installments {
		if ins.Status != models.InstallmentPaid {
			return false
		}
	}
	return true
}
