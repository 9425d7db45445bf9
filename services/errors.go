package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeSourceUnavailable     ErrorType = "source_unavailable"
	ErrorTypeStepExecutionFailed   ErrorType = "step_execution_failed"
	ErrorTypeStepBlocked           ErrorType = "step_blocked"
	ErrorTypeStateStoreUnavailable ErrorType = "state_store_unavailable"
	ErrorTypeValidation            ErrorType = "validation"
	ErrorTypeNotFound              ErrorType = "not_found"
	ErrorTypeConflict              ErrorType = "conflict"
	ErrorTypeInternal              ErrorType = "internal"
	ErrorTypeExternal              ErrorType = "external"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Cycle-level errors: abort the cycle and leave the watermark untouched
	ErrSourceUnavailable     = NewDomainError(ErrorTypeSourceUnavailable, "source of hire unavailable", nil)
	ErrStateStoreUnavailable = NewDomainError(ErrorTypeStateStoreUnavailable, "state store unavailable", nil)

	// Per-step errors: recorded against the hire, never abort other hires
	ErrStepExecutionFailed = NewDomainError(ErrorTypeStepExecutionFailed, "step execution failed", nil)
	ErrStepBlocked         = NewDomainError(ErrorTypeStepBlocked, "step blocked after exhausting attempts", nil)

	ErrInvalidHire     = NewDomainError(ErrorTypeValidation, "invalid hire transition", nil)
	ErrUnknownStep     = NewDomainError(ErrorTypeValidation, "unknown step", nil)
	ErrRecordNotFound  = NewDomainError(ErrorTypeNotFound, "onboarding record not found", nil)
	ErrCycleInProgress = NewDomainError(ErrorTypeConflict, "an onboarding cycle is already running", nil)
	ErrStepNotBlocked  = NewDomainError(ErrorTypeConflict, "step is not blocked", nil)
	ErrShuttingDown    = NewDomainError(ErrorTypeConflict, "onboarding agent is shutting down", nil)
)

// Error type checking helper functions

// IsSourceUnavailable checks if an error is a source-of-hire outage
func IsSourceUnavailable(err error) bool {
	return GetErrorType(err) == ErrorTypeSourceUnavailable
}

// IsStateStoreUnavailable checks if an error is a state store outage
func IsStateStoreUnavailable(err error) bool {
	return GetErrorType(err) == ErrorTypeStateStoreUnavailable
}

// IsCycleFatal reports whether err aborts a whole cycle
func IsCycleFatal(err error) bool {
	return IsSourceUnavailable(err) || IsStateStoreUnavailable(err)
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapSourceUnavailable wraps an upstream failure of the source-of-hire system
func WrapSourceUnavailable(message string, err error) error {
	return NewDomainError(ErrorTypeSourceUnavailable, message, err)
}

// WrapStateStore wraps a persistence failure
func WrapStateStore(message string, err error) error {
	return NewDomainError(ErrorTypeStateStoreUnavailable, message, err)
}
