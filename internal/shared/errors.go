package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Domain errors wrap one of these so the HTTP layer can pick a status
// without importing domain packages.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates the request is malformed or violates a field rule.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the request conflicts with current state.
	ErrConflict = errors.New("conflict")
	// ErrUnprocessable indicates a well-formed request that business rules reject.
	ErrUnprocessable = errors.New("unprocessable")
)

// ErrInvalidAmount indicates a missing, zero or negative monetary amount.
var ErrInvalidAmount = fmt.Errorf("invalid amount: %w", ErrValidation)

// Outcome labels used by the domain counters.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Outcome classifies err for metrics: nil is a success, errors wrapping one of
// the error kinds are rejections and anything else is a failure.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict), errors.Is(err, ErrUnprocessable):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
