package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/upb/hr-onboarding/models"
	"github.com/upb/hr-onboarding/repositories"
	"go.uber.org/zap"
)

// OnboardingRepository implements the repositories.OnboardingRepository interface
type OnboardingRepository struct {
	db     *DB
	txm    repositories.TransactionManager
	logger *zap.Logger
}

// NewOnboardingRepository creates a new onboarding repository
func NewOnboardingRepository(db *DB, logger *zap.Logger) repositories.OnboardingRepository {
	return &OnboardingRepository{
		db:     db,
		txm:    NewTransactionManager(db, logger),
		logger: logger,
	}
}

// GetOrCreate inserts an empty record unless one exists; the primary key makes it atomic
func (r *OnboardingRepository) GetOrCreate(ctx context.Context, hire models.Hire) (*models.OnboardingRecord, bool, error) {
	rec := models.NewOnboardingRecord(hire)
	hireJSON, err := json.Marshal(hire)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal hire: %w", err)
	}

	query := `
		INSERT INTO onboarding_records (hire_id, hire, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (hire_id) DO NOTHING
	`

	executor := GetExecutor(ctx, r.db)
	res, err := executor.ExecContext(ctx, query, rec.HireID, hireJSON, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create onboarding record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
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
	return r.load(ctx, GetExecutor(ctx, r.db), hireID, false)
}

func (r *OnboardingRepository) load(ctx context.Context, executor Executor, hireID string, forUpdate bool) (*models.OnboardingRecord, error) {
	query := `
		SELECT hire_id, hire, created_at, updated_at
		FROM onboarding_records
		WHERE hire_id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	rec := &models.OnboardingRecord{}
	var hireJSON []byte
	err := executor.QueryRowContext(ctx, query, hireID).Scan(&rec.HireID, &hireJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get onboarding record: %w", err)
	}
	if err := json.Unmarshal(hireJSON, &rec.Hire); err != nil {
		return nil, fmt.Errorf("failed to unmarshal hire: %w", err)
	}

	steps, err := r.loadSteps(ctx, executor, hireID)
	if err != nil {
		return nil, err
	}
	rec.Steps = steps
	return rec, nil
}

func (r *OnboardingRepository) loadSteps(ctx context.Context, executor Executor, hireID string) ([]models.StepResult, error) {
	query := `
		SELECT id, hire_id, step, attempt, status, external_ref, error, note, dry_run, recorded_at
		FROM step_results
		WHERE hire_id = $1
		ORDER BY step, attempt
	`

	rows, err := executor.QueryContext(ctx, query, hireID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step results: %w", err)
	}
	defer rows.Close()

	steps := []models.StepResult{}
	for rows.Next() {
		var s models.StepResult
		if err := rows.Scan(
			&s.ID,
			&s.HireID,
			&s.Step,
			&s.Attempt,
			&s.Status,
			&s.ExternalRef,
			&s.Error,
			&s.Note,
			&s.DryRun,
			&s.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan step result: %w", err)
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step results: %w", err)
	}
	return steps, nil
}

// RecordStep appends a step result under a row lock on the owning record
func (r *OnboardingRepository) RecordStep(ctx context.Context, result *models.StepResult) (*models.StepResult, error) {
	var stored *models.StepResult

	err := r.txm.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		executor := GetExecutor(txCtx, r.db)

		rec, err := r.load(txCtx, executor, result.HireID, true)
		if err != nil {
			return err
		}
		if cached := repositories.CachedTerminal(rec, result); cached != nil {
			stored = cached
			return nil
		}

		next := *result
		next.Attempt = rec.NextAttempt(result.Step)

		query := `
			INSERT INTO step_results (
				id, hire_id, step, attempt, status, external_ref, error, note, dry_run, recorded_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		if _, err := executor.ExecContext(txCtx, query,
			next.ID,
			next.HireID,
			next.Step,
			next.Attempt,
			next.Status,
			next.ExternalRef,
			next.Error,
			next.Note,
			next.DryRun,
			next.RecordedAt,
		); err != nil {
			return fmt.Errorf("failed to insert step result: %w", err)
		}

		if _, err := executor.ExecContext(txCtx,
			`UPDATE onboarding_records SET updated_at = $2 WHERE hire_id = $1`,
			next.HireID, next.RecordedAt,
		); err != nil {
			return fmt.Errorf("failed to touch onboarding record: %w", err)
		}

		stored = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("step result recorded",
		zap.String("hire_id", stored.HireID),
		zap.String("step", string(stored.Step)),
		zap.Int("attempt", stored.Attempt),
		zap.String("status", string(stored.Status)),
	)
	return stored, nil
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
	query := `
		SELECT hire_id, hire, created_at, updated_at
		FROM onboarding_records
		WHERE created_at >= $1
		ORDER BY created_at, hire_id
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list onboarding records: %w", err)
	}

	var records []*models.OnboardingRecord
	for rows.Next() {
		rec := &models.OnboardingRecord{}
		var hireJSON []byte
		if err := rows.Scan(&rec.HireID, &hireJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan onboarding record: %w", err)
		}
		if err := json.Unmarshal(hireJSON, &rec.Hire); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to unmarshal hire: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating onboarding records: %w", err)
	}
	rows.Close()

	for _, rec := range records {
		steps, err := r.loadSteps(ctx, executor, rec.HireID)
		if err != nil {
			return nil, err
		}
		rec.Steps = steps
	}
	return records, nil
}

// Ping verifies the database is reachable
func (r *OnboardingRepository) Ping(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
