// Package clients defines the external systems the onboarding core talks to.
//
// Every create operation must be idempotent by the hire's candidate ID: calling it
// again after a crash or timeout returns the existing object instead of creating a
// second one. The executor relies on this and does not deduplicate calls itself.
package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/upb/hr-onboarding/models"
)

// SourceOfHire lists candidates that transitioned to hired
type SourceOfHire interface {
	// ListTransitions returns hired transitions at or after since, in any order
	ListTransitions(ctx context.Context, since time.Time) ([]models.HireTransition, error)
}

// HRIS creates employee records
type HRIS interface {
	CreateEmployeeRecord(ctx context.Context, hire models.Hire) (employeeRef string, err error)
}

// Identity provisions workspace accounts
type Identity interface {
	// CreateAccount returns the primary address of the hire's account
	CreateAccount(ctx context.Context, hire models.Hire) (accountRef string, err error)
}

// KnowledgeBase creates onboarding pages
type KnowledgeBase interface {
	CreateOnboardingPage(ctx context.Context, hire models.Hire) (pageRef string, err error)
}

// Calendar schedules Day-1 meetings
type Calendar interface {
	ScheduleMeetings(ctx context.Context, hire models.Hire, accountRef string) (eventRefs []string, err error)
}

// Mail sends the welcome email
type Mail interface {
	SendWelcomeEmail(ctx context.Context, hire models.Hire, accountRef string) (messageRef string, err error)
}

// Chat sends chat messages
type Chat interface {
	SendWelcomeMessage(ctx context.Context, hire models.Hire, accountRef string) (messageRef string, err error)
	NotifyStakeholders(ctx context.Context, hire models.Hire, managerID string) (messageRef string, err error)
}

// Set bundles the step clients. A nil member means the system is not configured.
type Set struct {
	HRIS          HRIS
	Identity      Identity
	KnowledgeBase KnowledgeBase
	Calendar      Calendar
	Mail          Mail
	Chat          Chat
}

// Configured lists the systems that have a client
func (s Set) Configured() []string {
	var out []string
	if s.HRIS != nil {
		out = append(out, "hris")
	}
	if s.KnowledgeBase != nil {
		out = append(out, "knowledge_base")
	}
	if s.Identity != nil {
		out = append(out, "identity")
	}
	if s.Calendar != nil {
		out = append(out, "calendar")
	}
	if s.Mail != nil {
		out = append(out, "mail")
	}
	if s.Chat != nil {
		out = append(out, "chat")
	}
	return out
}

// ClientError represents an error from an external system
type ClientError struct {
	// System that generated the error
	System string

	// Operation that failed
	Operation string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Retryable indicates the call may succeed if repeated
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ClientError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.System, e.Operation)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s with status %d", msg, e.StatusCode)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements error unwrapping
func (e *ClientError) Unwrap() error {
	return e.Cause
}

// NewClientError creates a new client error
func NewClientError(system, operation string, statusCode int, retryable bool, cause error) *ClientError {
	return &ClientError{
		System:     system,
		Operation:  operation,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Retryable
	}
	return false
}
