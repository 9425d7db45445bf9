package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("connection refused")
	domainErr := NewDomainError(ErrorTypeSourceUnavailable, "list transitions", baseErr)

	assert.Equal(t, ErrorTypeSourceUnavailable, domainErr.Type)
	assert.Equal(t, "list transitions", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeStateStoreUnavailable,
				Message: "record step",
				Err:     errors.New("db error"),
			},
			wantMsg: "state_store_unavailable: record step (db error)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeValidation,
				Message: "unknown step",
			},
			wantMsg: "validation: unknown step",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeInternal, "internal error", baseErr)

	assert.Equal(t, baseErr, errors.Unwrap(domainErr))
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same error type", WrapSourceUnavailable("fetch", errors.New("502")), ErrSourceUnavailable, true},
		{"different error type", WrapStateStore("ping", nil), ErrSourceUnavailable, false},
		{"wrapped in fmt", fmt.Errorf("cycle: %w", WrapStateStore("ping", nil)), ErrStateStoreUnavailable, true},
		{"not a domain error", ErrRecordNotFound, errors.New("regular error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := NewDomainError(ErrorTypeStepBlocked, "blocked", nil)

	err.WithDetail("hire_id", "C1").WithDetail("step", "provision_identity")

	details := GetErrorDetails(err)
	require.NotNil(t, details)
	assert.Equal(t, "C1", details["hire_id"])
	assert.Equal(t, "provision_identity", details["step"])
	assert.Nil(t, GetErrorDetails(errors.New("plain")))
}

func TestIsCycleFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"source unavailable", WrapSourceUnavailable("list", errors.New("timeout")), true},
		{"state store unavailable", fmt.Errorf("wrapped: %w", ErrStateStoreUnavailable), true},
		{"step failure", ErrStepExecutionFailed, false},
		{"blocked step", ErrStepBlocked, false},
		{"regular error", errors.New("regular"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCycleFatal(tt.err))
		})
	}
}

func TestErrorTypeHelpers(t *testing.T) {
	assert.True(t, IsNotFoundError(ErrRecordNotFound))
	assert.True(t, IsValidationError(fmt.Errorf("x: %w", ErrUnknownStep)))
	assert.True(t, IsValidationError(ErrInvalidHire))
	assert.True(t, IsConflictError(ErrCycleInProgress))
	assert.True(t, IsConflictError(ErrStepNotBlocked))
	assert.False(t, IsConflictError(ErrRecordNotFound))
	assert.True(t, IsSourceUnavailable(ErrSourceUnavailable))
	assert.True(t, IsStateStoreUnavailable(ErrStateStoreUnavailable))

	assert.Equal(t, ErrorTypeExternal, GetErrorType(WrapError(ErrorTypeExternal, "hris", nil)))
	assert.Equal(t, ErrorType(""), GetErrorType(errors.New("plain")))
}
