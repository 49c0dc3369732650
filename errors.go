package loam

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("loam: record not found")

	// ErrNoUpdatableFields is returned when an update resolves to an
	// empty SET list.
	ErrNoUpdatableFields = errors.New("loam: no updatable fields")

	// ErrRestoreNotSupported is returned when restore is called on a
	// model without soft-delete enabled.
	ErrRestoreNotSupported = errors.New("loam: restore requires a paranoid model")

	// ErrTimedOut is returned when an operation loses the race against
	// its timeout. The underlying statement may still run to completion
	// in the background; the engine has no statement cancellation.
	ErrTimedOut = errors.New("loam: operation timed out")

	// ErrTxStarted is returned when attempting to start a new transaction
	// within an existing transaction.
	ErrTxStarted = errors.New("loam: cannot start a transaction within a transaction")
)

// MalformedConditionError is returned when the condition compiler cannot
// map an operator or value shape.
type MalformedConditionError struct {
	msg string
}

// Error returns the error string.
func (e *MalformedConditionError) Error() string {
	return fmt.Sprintf("loam: malformed condition: %s", e.msg)
}

// NewMalformedConditionError returns a new MalformedConditionError with
// a formatted description of the offending shape.
func NewMalformedConditionError(format string, args ...any) *MalformedConditionError {
	return &MalformedConditionError{msg: fmt.Sprintf(format, args...)}
}

// IsMalformedCondition returns true if the error is a MalformedConditionError.
func IsMalformedCondition(err error) bool {
	if err == nil {
		return false
	}
	var e *MalformedConditionError
	return errors.As(err, &e)
}

// RequiredFieldMissingError is returned when a non-nullable,
// non-auto-increment column has no resolvable value at create time.
type RequiredFieldMissingError struct {
	Model string
	Field string
}

// Error returns the error string.
func (e *RequiredFieldMissingError) Error() string {
	return fmt.Sprintf("loam: required field %s.%s has no value", e.Model, e.Field)
}

// IsRequiredFieldMissing returns true if the error is a RequiredFieldMissingError.
func IsRequiredFieldMissing(err error) bool {
	if err == nil {
		return false
	}
	var e *RequiredFieldMissingError
	return errors.As(err, &e)
}

// ConstraintError represents an engine-reported constraint violation
// (uniqueness, foreign key, or check). The original engine error is
// wrapped and never swallowed.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e *ConstraintError) Error() string {
	return fmt.Sprintf("loam: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying engine error.
func (e *ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a new ConstraintError wrapping the engine error.
func NewConstraintError(msg string, wrap error) *ConstraintError {
	return &ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConstraintError
	return errors.As(err, &e)
}

// RetryExhaustedError is returned when every retry attempt failed.
// It wraps the error of the final attempt.
type RetryExhaustedError struct {
	Attempts int
	wrap     error
}

// Error returns the error string.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("loam: retry exhausted after %d attempts: %v", e.Attempts, e.wrap)
}

// Unwrap returns the error of the final attempt.
func (e *RetryExhaustedError) Unwrap() error {
	return e.wrap
}

// IsRetryExhausted returns true if the error is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	if err == nil {
		return false
	}
	var e *RetryExhaustedError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback.
// The error that triggered the rollback is joined alongside it.
type RollbackError struct {
	Err error
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("loam: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}
