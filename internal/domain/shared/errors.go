// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrAlreadyProcessed = errors.New("already processed")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// Infrastructure errors
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrTimeout          = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "ledger", "gradebook", "insight"
	Op      string // Operation that failed, e.g., "Append", "SetGrade"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Ledger domain errors
var (
	ErrEmptyIdempotencyKey = NewDomainError("ledger", "Append", ErrEmptyValue, "idempotency key cannot be empty")
	ErrEmptyEventType      = NewDomainError("ledger", "Append", ErrEmptyValue, "event type cannot be empty")
	ErrEventNotFound       = NewDomainError("ledger", "Get", ErrNotFound, "event not found")
)

// Gradebook domain errors
var (
	ErrCourseNotFound     = NewDomainError("gradebook", "Find", ErrNotFound, "course not found")
	ErrSourceNotFound     = NewDomainError("gradebook", "FindSource", ErrNotFound, "grade source not found")
	ErrRecordNotFound     = NewDomainError("gradebook", "FindRecord", ErrNotFound, "grade record not found")
	ErrEntryNotFound      = NewDomainError("gradebook", "FindEntry", ErrNotFound, "gradebook entry not found")
	ErrScoreNotFinite     = NewDomainError("gradebook", "Validate", ErrInvalidInput, "score must be a finite number")
	ErrScoreNegative      = NewDomainError("gradebook", "Validate", ErrNegativeValue, "score cannot be negative")
	ErrScoreExceedsMax    = NewDomainError("gradebook", "Validate", ErrValueOutOfRange, "score exceeds points possible")
	ErrPointsNotPositive  = NewDomainError("gradebook", "Validate", ErrInvalidInput, "points possible must be positive")
	ErrSourceExists       = NewDomainError("gradebook", "RegisterSource", ErrAlreadyExists, "grade source already registered")
	ErrPointsMismatch     = NewDomainError("gradebook", "SetGrade", ErrInvalidInput, "points possible does not match source definition")
	ErrGradeWriteConflict = NewDomainError("gradebook", "SetGrade", ErrConcurrentModification, "concurrent grade write on the same record")
)

// Attempt domain errors
var (
	ErrTestNotFound       = NewDomainError("attempt", "Find", ErrNotFound, "test not found")
	ErrAttemptNotFound    = NewDomainError("attempt", "Submit", ErrNotFound, "attempt not found")
	ErrAttemptResubmitted = NewDomainError("attempt", "Submit", ErrAlreadyProcessed, "attempt already submitted")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrTimeout)
}
