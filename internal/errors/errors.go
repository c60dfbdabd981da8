// Package errors holds the error taxonomy shared by every nrcsync package.
//
// This file provides:
// - Wire protocol error codes
// - Sentinel errors for all error conditions
// - Error category checking functions
// - ErrorToCode and CodeToError mapping
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Wire protocol error codes - used in gateway responses
// ============================================================================

const (
	CodeUnknown        int32 = 1
	CodeInvalidRequest int32 = 2
	CodeNotFound       int32 = 3
	CodeAlreadyExists  int32 = 4
	CodeInternal       int32 = 5
	CodeBlueprint      int32 = 6
	CodeLockTimeout    int32 = 7
	CodeQueueFull      int32 = 8
	CodeTimeout        int32 = 9
	CodeClosed         int32 = 10
)

// CodeName returns a human-readable name for an error code.
func CodeName(code int32) string {
	switch code {
	case CodeUnknown:
		return "Unknown"
	case CodeInvalidRequest:
		return "InvalidRequest"
	case CodeNotFound:
		return "NotFound"
	case CodeAlreadyExists:
		return "AlreadyExists"
	case CodeInternal:
		return "Internal"
	case CodeBlueprint:
		return "Blueprint"
	case CodeLockTimeout:
		return "LockTimeout"
	case CodeQueueFull:
		return "QueueFull"
	case CodeTimeout:
		return "Timeout"
	case CodeClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Not found errors
	ErrNotFound        = errors.New("not found")
	ErrRundownNotFound = errors.New("rundown not found")
	ErrSegmentNotFound = errors.New("segment not found")
	ErrPartNotFound    = errors.New("part not found")

	// Identity conflicts
	ErrAlreadyExists    = errors.New("already exists")
	ErrDuplicateSegment = errors.New("duplicate segment external id")
	ErrDuplicatePart    = errors.New("duplicate part external id")

	// Validation errors
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingField   = errors.New("missing required field")
	ErrInvalidChange  = errors.New("invalid change")
	ErrPayloadUnset   = errors.New("payload not set")

	// Customization hook
	ErrBlueprint = errors.New("blueprint failure")

	// Transient errors
	ErrLockTimeout = errors.New("rundown lock timeout")
	ErrQueueFull   = errors.New("queue full")
	ErrTimeout     = errors.New("timeout")

	// Internal errors
	ErrInternal = errors.New("internal error")
	ErrDatabase = errors.New("database error")
	ErrClosed   = errors.New("closed")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrRundownNotFound) ||
		errors.Is(err, ErrSegmentNotFound) ||
		errors.Is(err, ErrPartNotFound)
}

// IsAlreadyExists returns true if err is an identity conflict.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrDuplicateSegment) ||
		errors.Is(err, ErrDuplicatePart)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidChange) ||
		errors.Is(err, ErrPayloadUnset)
}

// IsBlueprint returns true if err came out of the customization hook.
func IsBlueprint(err error) bool {
	return errors.Is(err, ErrBlueprint)
}

// IsRetriable returns true if redelivering the same request may succeed.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrTimeout)
}

// ============================================================================
// Error to wire code mapping
// ============================================================================

// ErrorToCode maps a sentinel error to its wire protocol code.
func ErrorToCode(err error) int32 {
	if err == nil {
		return CodeUnknown
	}

	switch {
	case IsNotFound(err):
		return CodeNotFound
	case IsAlreadyExists(err):
		return CodeAlreadyExists
	case IsValidation(err):
		return CodeInvalidRequest
	case IsBlueprint(err):
		return CodeBlueprint
	case Is(err, ErrLockTimeout):
		return CodeLockTimeout
	case Is(err, ErrQueueFull):
		return CodeQueueFull
	case Is(err, ErrTimeout):
		return CodeTimeout
	case Is(err, ErrClosed):
		return CodeClosed
	default:
		return CodeInternal
	}
}

// CodeToError maps a wire code to a sentinel error (for clients).
func CodeToError(code int32) error {
	switch code {
	case CodeInvalidRequest:
		return ErrInvalidRequest
	case CodeNotFound:
		return ErrNotFound
	case CodeAlreadyExists:
		return ErrAlreadyExists
	case CodeBlueprint:
		return ErrBlueprint
	case CodeLockTimeout:
		return ErrLockTimeout
	case CodeQueueFull:
		return ErrQueueFull
	case CodeTimeout:
		return ErrTimeout
	case CodeClosed:
		return ErrClosed
	default:
		return ErrInternal
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// WrapBlueprint marks err as a customization hook failure.
func WrapBlueprint(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBlueprint) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBlueprint, err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, notFoundFor(entityType))
}

// NewAlreadyExists creates an already-exists error with context.
func NewAlreadyExists(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrAlreadyExists)
}

// NewDuplicate reports an external id that occurs twice among siblings.
func NewDuplicate(entityType, identifier string) error {
	sentinel := ErrAlreadyExists
	switch entityType {
	case "segment":
		sentinel = ErrDuplicateSegment
	case "part":
		sentinel = ErrDuplicatePart
	}
	return fmt.Errorf("%s '%s': %w", entityType, identifier, sentinel)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidRequest)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

func notFoundFor(entityType string) error {
	switch entityType {
	case "rundown":
		return ErrRundownNotFound
	case "segment":
		return ErrSegmentNotFound
	case "part":
		return ErrPartNotFound
	default:
		return ErrNotFound
	}
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
