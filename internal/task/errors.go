package task

import (
	"errors"
)

// Validation errors are raised synchronously at admission or dispatch and are
// never retried.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrMissingInput       = errors.New("missing input: a code diff task or a requirement task is required")
	ErrDependencyNotReady = errors.New("dependency not ready")
	ErrNotFound           = errors.New("reference not found")
	ErrAlreadyInFlight    = errors.New("task already in flight")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

// Errors raised to a worker that lost a race. The job is dropped, not retried.
var (
	ErrStaleDispatch = errors.New("stale dispatch")
	ErrCancelled     = errors.New("task cancelled")
)

// ErrUnsupportedInput marks a configuration problem with the task's own input
// (unknown file type, empty content). Retrying cannot change the outcome.
var ErrUnsupportedInput = errors.New("unsupported input")

// FatalError wraps an execution error that must not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps err as non-retryable.
func NewFatalError(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{err: err}
}

// IsFatal reports whether err, or anything it wraps, was marked fatal.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// IsValidation reports whether err is one of the synchronous validation errors.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrMissingInput) ||
		errors.Is(err, ErrDependencyNotReady) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyInFlight) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsTerminal reports whether a failed attempt must not be retried: the input
// itself is wrong, or the error was explicitly marked fatal.
func IsTerminal(err error) bool {
	return IsFatal(err) ||
		IsValidation(err) ||
		errors.Is(err, ErrUnsupportedInput) ||
		errors.Is(err, ErrStaleDispatch) ||
		errors.Is(err, ErrCancelled)
}
