package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/hr-onboarding/models"
	"github.com/upb/hr-onboarding/repositories"
	"go.uber.org/zap"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OnboardingRepository stores onboarding records in sqlite
type OnboardingRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewOnboardingRepository creates a new onboarding repository
func NewOnboardingRepository(db *DB, logger *zap.Logger) *OnboardingRepository {
	return &OnboardingRepository{db: db, logger: logger}
}

// GetOrCreate inserts an empty record unless one exists
func (r *OnboardingRepository) GetOrCreate(ctx context.Context, hire models.Hire) (*models.OnboardingRecord, bool, error) {
	rec := models.NewOnboardingRecord(hire)
	hireJSON, err := json.Marshal(hire)
	if err != nil {
		return nil, false, fmt.Errorf("marshal hire: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO onboarding_records (hire_id, hire, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (hire_id) DO NOTHING`,
		rec.HireID, string(hireJSON), formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return nil, false, fmt.Errorf("create onboarding record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		r.logger.Debug("onboarding record created", zap.String("hire_id", rec.HireID))
		return rec, true, nil
	}

	existing, err := r.Get(ctx, hire.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Get retrieves a record with its step history
func (r *OnboardingRepository) Get(ctx context.Context, hireID string) (*models.OnboardingRecord, error) {
	return r.load(ctx, r.db, hireID)
}

func (r *OnboardingRepository) load(ctx context.Context, q querier, hireID string) (*models.OnboardingRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT hire_id, hire, created_at, updated_at
		FROM onboarding_records
		WHERE hire_id = ?`, hireID)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("get onboarding record: %w", err)
	}

	steps, err := loadSteps(ctx, q, hireID)
	if err != nil {
		return nil, err
	}
	rec.Steps = steps
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.OnboardingRecord, error) {
	var (
		rec                        models.OnboardingRecord
		hireJSON, created, updated string
	)
	if err := s.Scan(&rec.HireID, &hireJSON, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(hireJSON), &rec.Hire); err != nil {
		return nil, fmt.Errorf("unmarshal hire: %w", err)
	}
	var err error
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &rec, nil
}

func loadSteps(ctx context.Context, q querier, hireID string) ([]models.StepResult, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, hire_id, step, attempt, status, external_ref, error, note, dry_run, recorded_at
		FROM step_results
		WHERE hire_id = ?
		ORDER BY step, attempt`, hireID)
	if err != nil {
		return nil, fmt.Errorf("query step results: %w", err)
	}
	defer rows.Close()

	steps := []models.StepResult{}
	for rows.Next() {
		var (
			s            models.StepResult
			id, recorded string
		)
		if err := rows.Scan(&id, &s.HireID, &s.Step, &s.Attempt, &s.Status,
			&s.ExternalRef, &s.Error, &s.Note, &s.DryRun, &recorded); err != nil {
			return nil, fmt.Errorf("scan step result: %w", err)
		}
		if s.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse step result id: %w", err)
		}
		if s.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step results: %w", err)
	}
	return steps, nil
}

// RecordStep appends a step result inside a transaction
func (r *OnboardingRepository) RecordStep(ctx context.Context, result *models.StepResult) (*models.StepResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx for record step: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rec, err := r.load(ctx, tx, result.HireID)
	if err != nil {
		return nil, err
	}
	if cached := repositories.CachedTerminal(rec, result); cached != nil {
		return cached, nil
	}

	next := *result
	next.Attempt = rec.NextAttempt(result.Step)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO step_results (
			id, hire_id, step, attempt, status, external_ref, error, note, dry_run, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		next.ID.String(), next.HireID, string(next.Step), next.Attempt, string(next.Status),
		next.ExternalRef, next.Error, next.Note, next.DryRun, formatTime(next.RecordedAt),
	); err != nil {
		return nil, fmt.Errorf("insert step result: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE onboarding_records SET updated_at = ? WHERE hire_id = ?`,
		formatTime(next.RecordedAt), next.HireID,
	); err != nil {
		return nil, fmt.Errorf("touch onboarding record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit record step: %w", err)
	}

	r.logger.Debug("step result recorded",
		zap.String("hire_id", next.HireID),
		zap.String("step", string(next.Step)),
		zap.Int("attempt", next.Attempt),
		zap.String("status", string(next.Status)),
	)
	return &next, nil
}

// IsComplete reports whether every required step is Succeeded or Skipped
func (r *OnboardingRepository) IsComplete(ctx context.Context, hireID string, view models.StepView) (bool, error) {
	rec, err := r.Get(ctx, hireID)
	if err != nil {
		return false, err
	}
	return rec.IsComplete(view), nil
}

// ListCreatedSince returns records created at or after since, oldest first
func (r *OnboardingRepository) ListCreatedSince(ctx context.Context, since time.Time) ([]*models.OnboardingRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT hire_id, hire, created_at, updated_at
		FROM onboarding_records
		WHERE created_at >= ?
		ORDER BY created_at, hire_id`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("list onboarding records: %w", err)
	}

	var records []*models.OnboardingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan onboarding record: %w", err)
		}
		records = append(records, rec)
	}
	// the single connection must be released before loading steps
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate onboarding records: %w", err)
	}

	for _, rec := range records {
		if rec.Steps, err = loadSteps(ctx, r.db, rec.HireID); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Ping verifies the database is reachable
func (r *OnboardingRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite health check failed: %w", err)
	}
	return nil
}
