// Package shared contains the domain errors used across the grade, ranking,
// orientation and simulation packages.
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
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "grade", "orientation", "simulation"
	Op      string // Operation that failed, e.g., "Validate", "ApplyOverrides"
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

// Grade domain errors
var (
	ErrStudentRecordNotFound = NewDomainError("grade", "FetchStudentRecord", ErrNotFound, "student record not found")
	ErrInvalidGrade          = NewDomainError("grade", "Validate", ErrValueOutOfRange, "grade value must be between 0 and 20")
	ErrInvalidWeight         = NewDomainError("grade", "Validate", ErrNegativeValue, "component weight cannot be negative")
	ErrInvalidCoefficient    = NewDomainError("grade", "Validate", ErrValueOutOfRange, "subject coefficient must be positive")
	ErrDuplicateSubject      = NewDomainError("grade", "Validate", ErrAlreadyExists, "subject appears twice in record")
	ErrUnknownComponentKind  = NewDomainError("grade", "ParseComponentKind", ErrInvalidFormat, "unknown component kind")
)

// Orientation domain errors
var (
	ErrMalformedFormula = NewDomainError("orientation", "ValidateFormula", ErrValidation, "malformed formula weights")
	ErrUnknownTrack     = NewDomainError("orientation", "ParseTrack", ErrInvalidInput, "unknown orientation track")
)

// Simulation domain errors
var (
	ErrInvalidOverride = NewDomainError("simulation", "ApplyOverrides", ErrValidation, "override targets unknown subject or component")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsInvalidOverride checks if the error was caused by a rejected simulation override.
func IsInvalidOverride(err error) bool {
	return errors.Is(err, ErrInvalidOverride)
}
