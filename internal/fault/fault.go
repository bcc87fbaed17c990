// Package fault defines the error taxonomy shared by every router component.
//
// Each concrete error wraps exactly one kind, so callers classify with
// errors.Is(err, fault.ErrPaused) and friends. Errors marked retryable are
// the "try again later" class: the same call can succeed once time passes or
// an operator acts, without changing its arguments.
package fault

import "errors"

var (
	ErrStateViolation = errors.New("state violation")
	ErrUnauthorized   = errors.New("authorization failure")
	ErrValidation     = errors.New("validation failure")
	ErrSolvency       = errors.New("solvency guard")
	ErrPaused         = errors.New("system paused")
	ErrNotFound       = errors.New("not found")
)

// Error is a named protocol error of a given kind
type Error struct {
	Kind      error
	Name      string
	retryable bool
}

func (e *Error) Error() string {
	return e.Name
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// New returns a permanent error of kind
func New(kind error, name string) *Error {
	return &Error{Kind: kind, Name: name}
}

// NewRetryable returns an error of kind that may clear without new input
func NewRetryable(kind error, name string) *Error {
	return &Error{Kind: kind, Name: name, retryable: true}
}

// Retryable reports whether err (or anything it wraps) is retryable
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.retryable || errors.Is(err, ErrPaused)
	}
	return false
}

// KindOf returns a short label for err's kind, for metrics and logs
func KindOf(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrStateViolation):
		return "state_violation"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrSolvency):
		return "solvency"
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
