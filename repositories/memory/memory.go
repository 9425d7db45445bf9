// Package memory provides an in-process state store for tests, dry runs and
// single-shot runs that do not need durability.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/upb/hr-onboarding/models"
	"github.com/upb/hr-onboarding/repositories"
	"go.uber.org/zap"
)

// Store implements OnboardingRepository in memory
type Store struct {
	mu      sync.Mutex
	records map[string]*models.OnboardingRecord
	logger  *zap.Logger
}

// NewStore creates an empty store
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		records: make(map[string]*models.OnboardingRecord),
		logger:  logger,
	}
}

// NewRepositories creates an in-memory repository set
func NewRepositories(logger *zap.Logger) *repositories.Repositories {
	return &repositories.Repositories{
		Onboarding: NewStore(logger),
		Watermarks: NewWatermarkStore(),
	}
}

// GetOrCreate returns the existing record or creates an empty one
func (s *Store) GetOrCreate(ctx context.Context, hire models.Hire) (*models.OnboardingRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[hire.ID]; ok {
		return rec.Clone(), false, nil
	}
	rec := models.NewOnboardingRecord(hire)
	s.records[hire.ID] = rec
	s.logger.Debug("onboarding record created", zap.String("hire_id", hire.ID))
	return rec.Clone(), true, nil
}

// Get retrieves a record by hire ID
func (s *Store) Get(ctx context.Context, hireID string) (*models.OnboardingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[hireID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return rec.Clone(), nil
}

// RecordStep appends a result unless a visible terminal result exists
func (s *Store) RecordStep(ctx context.Context, result *models.StepResult) (*models.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[result.HireID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	if cached := repositories.CachedTerminal(rec, result); cached != nil {
		return cached, nil
	}

	stored := *result
	stored.Attempt = rec.NextAttempt(result.Step)
	rec.Append(stored)
	s.logger.Debug("step result recorded",
		zap.String("hire_id", stored.HireID),
		zap.String("step", string(stored.Step)),
		zap.Int("attempt", stored.Attempt),
		zap.String("status", string(stored.Status)),
	)
	return &stored, nil
}

// IsComplete reports whether every required step is terminal-success
func (s *Store) IsComplete(ctx context.Context, hireID string, view models.StepView) (bool, error) {
	rec, err := s.Get(ctx, hireID)
	if err != nil {
		return false, err
	}
	return rec.IsComplete(view), nil
}

// ListCreatedSince returns records created at or after since
func (s *Store) ListCreatedSince(ctx context.Context, since time.Time) ([]*models.OnboardingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.OnboardingRecord, 0, len(s.records))
	for _, rec := range s.records {
		if !rec.CreatedAt.Before(since) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].HireID < out[j].HireID
	})
	return out, nil
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// WatermarkStore implements WatermarkRepository in memory
type WatermarkStore struct {
	mu         sync.Mutex
	watermarks map[string]time.Time
}

// NewWatermarkStore creates an empty watermark store
func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{watermarks: make(map[string]time.Time)}
}

// Get returns the watermark stored under key
func (w *WatermarkStore) Get(ctx context.Context, key string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	at, ok := w.watermarks[key]
	return at, ok, nil
}

// Set stores the watermark under key
func (w *WatermarkStore) Set(ctx context.Context, key string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watermarks[key] = at.UTC()
	return nil
}
