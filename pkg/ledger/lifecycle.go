package ledger

import "github.com/ZaherBK/hr-sync/pkg/models"

// Allowed loan status transitions. Paid is entered automatically when a
// repayment settles the loan; defaulted is set by external collections;
// canceled additionally requires that nothing has been repaid.
var transitions = map[models.LoanStatus][]models.LoanStatus{
	models.LoanStatusDraft:    {models.LoanStatusApproved, models.LoanStatusActive, models.LoanStatusCanceled},
	models.LoanStatusApproved: {models.LoanStatusActive, models.LoanStatusPaid, models.LoanStatusCanceled},
	models.LoanStatusActive:   {models.LoanStatusPaid, models.LoanStatusDefaulted},
}

func canTransition(from, to models.LoanStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition applies a status change, enforcing the lifecycle rules.
func transition(loan *models.Loan, to models.LoanStatus) error {
	if !canTransition(loan.Status, to) {
		return statef("cannot move loan from %s to %s", loan.Status, to)
	}
	if to == models.LoanStatusCanceled && loan.RepaidTotal.IsPositive() {
		return statef("cannot cancel a loan after repayments")
	}
	loan.Status = to
	return nil
}

// repayable reports whether the loan may receive payments in its current
// status. Approved loans accept payroll deductions before explicit activation.
func repayable(status models.LoanStatus) bool {
	return status == models.LoanStatusActive || status == models.LoanStatusApproved
}
