// Package apperrors holds the error taxonomy shared by the register, ledger
// and discrepancy services. Callers match with errors.Is / errors.As.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input: non-positive amounts, unbalanced
	// journal entries, negative counted balances, unknown enum values.
	ErrValidation = errors.New("validation failed")

	// ErrConflict marks a lost race or a uniqueness violation, such as a
	// second open session for a register or a double close.
	ErrConflict = errors.New("conflict")

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNotFound          = errors.New("not found")

	// ErrInvalidOperation marks an operation that is well formed but not
	// allowed in the current state, such as deleting a secure transaction.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrPersistence marks a storage failure. It is always retryable.
	ErrPersistence = errors.New("persistence failure")
)

type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

type PermissionError struct {
	Actor      string
	Role       string
	Capability string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s (%s) lacks %s", e.Actor, e.Role, e.Capability)
}

func (e *PermissionError) Unwrap() error {
	return ErrPermissionDenied
}

// PersistenceError wraps a storage error with the operation that failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func InvalidOperation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether the same call may succeed when repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsClientError reports whether the failure is caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict)
}
