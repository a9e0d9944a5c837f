// Package domain defines core types, interfaces, and errors for the data gateway.
package domain

import (
	"errors"
	"fmt"
)

// NotFoundError indicates a schema or record was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates data that does not conform to its schema,
// or a malformed query specification.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a uniqueness violation (duplicate schema name,
// duplicate record under a unique index).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// UnsafeOperationError indicates a mutation without an identifying filter
// or pagination outside the allowed range. These are rejected before any
// connection is acquired.
type UnsafeOperationError struct {
	Message string
}

func (e *UnsafeOperationError) Error() string { return e.Message }

// ResourceExhaustedError indicates pool acquisition timed out or a bulk
// batch exceeded the configured maximum. Permanent marks requests that can
// never succeed at their current size, as opposed to transient contention.
type ResourceExhaustedError struct {
	Message   string
	Permanent bool
}

func (e *ResourceExhaustedError) Error() string { return e.Message }

// StoreError indicates the embedded engine reported an execution failure.
// The wrapped error carries engine detail for logging; Message identifies
// the operation and schema without leaking query text or file paths.
type StoreError struct {
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *StoreError) Unwrap() error { return e.Err }

// ProcessingError indicates a row-to-record mapping or conversion failure.
type ProcessingError struct {
	Message string
}

func (e *ProcessingError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrUnsafeOperation creates an UnsafeOperationError with a formatted message.
func ErrUnsafeOperation(format string, args ...interface{}) *UnsafeOperationError {
	return &UnsafeOperationError{Message: fmt.Sprintf(format, args...)}
}

// ErrResourceExhausted creates a ResourceExhaustedError with a formatted message.
func ErrResourceExhausted(format string, args ...interface{}) *ResourceExhaustedError {
	return &ResourceExhaustedError{Message: fmt.Sprintf(format, args...)}
}

// ErrBatchTooLarge creates a permanent ResourceExhaustedError for a batch
// that exceeds the configured maximum.
func ErrBatchTooLarge(format string, args ...interface{}) *ResourceExhaustedError {
	return &ResourceExhaustedError{Message: fmt.Sprintf(format, args...), Permanent: true}
}

// ErrStore wraps an engine error with an operation/schema context message.
func ErrStore(err error, format string, args ...interface{}) *StoreError {
	return &StoreError{Message: fmt.Sprintf(format, args...), Err: err}
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ErrProcessing creates a ProcessingError with a formatted message.
func ErrProcessing(format string, args ...interface{}) *ProcessingError {
	return &ProcessingError{Message: fmt.Sprintf(format, args...)}
}
