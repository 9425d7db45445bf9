package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/upb/hr-onboarding/models"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// OnboardingRepository persists onboarding records and their append-only step history.
// Every method is linearizable per hire ID.
type OnboardingRepository interface {
	// GetOrCreate returns the record for hire, creating an empty one if none exists.
	// created reports whether this call created it. An existing record is not modified.
	GetOrCreate(ctx context.Context, hire models.Hire) (record *models.OnboardingRecord, created bool, err error)

	// Get retrieves a record with its full step history, or ErrNotFound
	Get(ctx context.Context, hireID string) (*models.OnboardingRecord, error)

	// RecordStep appends result and assigns its attempt number. When a Succeeded or
	// Skipped result for the same step, visible in the result's mode, already exists
	// nothing is written and the cached result is returned instead.
	RecordStep(ctx context.Context, result *models.StepResult) (*models.StepResult, error)

	// IsComplete reports whether every required step is Succeeded or Skipped.
	// Cycles use it to decide which unfinished hires to resume.
	IsComplete(ctx context.Context, hireID string, view models.StepView) (bool, error)

	// ListCreatedSince returns records created at or after since, oldest first
	ListCreatedSince(ctx context.Context, since time.Time) ([]*models.OnboardingRecord, error)

	// Ping verifies the store is reachable
	Ping(ctx context.Context) error
}

// WatermarkRepository stores the start time of the last clean cycle per mode
type WatermarkRepository interface {
	// Get returns the watermark for key; ok is false when none was stored yet
	Get(ctx context.Context, key string) (at time.Time, ok bool, err error)

	// Set stores the watermark for key
	Set(ctx context.Context, key string, at time.Time) error
}

// Repositories holds all repository instances
type Repositories struct {
	Onboarding OnboardingRepository
	Watermarks WatermarkRepository
}

// CachedTerminal returns the terminal result that makes recording result a no-op,
// or nil when result should be appended.
func CachedTerminal(record *models.OnboardingRecord, result *models.StepResult) *models.StepResult {
	return record.TerminalResult(result.Step, result.DryRun)
}
