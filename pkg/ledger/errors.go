package ledger

import "fmt"

// The ledger surfaces four failure categories so the transport layer can map
// them to status codes without matching on error strings.

// ValidationError reports malformed or out-of-range input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// StateError reports an operation not permitted in the loan's current status.
type StateError struct {
	Msg string
}

func (e *StateError) Error() string { return e.Msg }

func statef(format string, args ...any) error {
	return &StateError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown loan or installment reference.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

func notFoundf(format string, args ...any) error {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

// RateError reports the reducing scheme's non-positive periodic-rate
// precondition. It is checked before any schedule row is built so a partial
// schedule is never produced.
type RateError struct {
	Msg string
}

func (e *RateError) Error() string { return e.Msg }

func ratef(format string, args ...any) error {
	return &RateError{Msg: fmt.Sprintf(format, args...)}
}
