package ledger

import (
	"time"

	"github.com/ZaherBK/hr-sync/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// selectTarget picks the installment a payment applies to. An explicit
// installment id must belong to the loan; otherwise the lowest-sequence open
// installment is chosen.
func selectTarget(installments []*models.Installment, installmentID *uuid.UUID) (*models.Installment, error) {
	if installmentID != nil {
		for _, ins := range installments {
			if ins.ID == *installmentID {
				return ins, nil
			}
		}
		return nil, validationf("installment %s does not belong to the loan", installmentID)
	}

	var target *models.Installment
	for _, ins := range installments {
		if !ins.Status.Open() {
			continue
		}
		if target == nil || ins.SequenceNo < target.SequenceNo {
			target = ins
		}
	}
	if target == nil {
		return nil, validationf("nothing to pay")
	}
	return target, nil
}

// allocate applies up to amount against the target installment and returns
// the applied (capped) amount.
//
// The applied amount never pushes paid_total above due_total. It is split
// across principal and interest in proportion to the dues remaining before
// this payment; the interest share is derived as the remainder so that
// paid_total == paid_principal + paid_interest holds exactly. When the
// remaining due was already zero the whole (zero) application goes to
// principal, which avoids dividing by the settled installment's zero balance.
func allocate(target *models.Installment, amount decimal.Decimal, paidOn time.Time) decimal.Decimal {
	remainingBefore := target.Remaining()

	applied := amount
	if applied.GreaterThan(remainingBefore) {
		applied = remainingBefore
	}
	if applied.IsNegative() {
		applied = decimal.Zero
	}

	if remainingBefore.IsPositive() {
		remPrincipal := target.DuePrincipal.Sub(target.PaidPrincipal)
		principalShare := roundAmount(applied.Mul(remPrincipal).Div(remainingBefore))
		interestShare := applied.Sub(principalShare)
		target.PaidPrincipal = roundAmount(target.PaidPrincipal.Add(principalShare))
		target.PaidInterest = roundAmount(target.PaidInterest.Add(interestShare))
	} else {
		target.PaidPrincipal = roundAmount(target.PaidPrincipal.Add(applied))
	}
	target.PaidTotal = roundAmount(target.PaidTotal.Add(applied))

	if target.PaidTotal.GreaterThanOrEqual(target.DueTotal) {
		target.Status = models.InstallmentPaid
		on := paidOn
		target.PaidOn = &on
	} else {
		target.Status = models.InstallmentPartial
	}

	return applied
}
