package ledger

import "github.com/shopspring/decimal"

// Money amounts are computed at three fractional digits and displayed at two.
// Every intermediate amount is rounded half-up before it is stored, so summed
// installment totals reproduce the loan totals without drift beyond one
// rounding unit (0.001).

const (
	internalPlaces = 3
	displayPlaces  = 2
)

// roundAmount rounds to the internal three-digit precision, half away from
// zero. All stored amounts pass through here.
func roundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(internalPlaces)
}

// RoundDisplay rounds to the two-digit external precision.
func RoundDisplay(d decimal.Decimal) decimal.Decimal {
	return d.Round(displayPlaces)
}
