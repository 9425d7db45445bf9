package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/upb/hr-onboarding/repositories"
	"go.uber.org/zap"
)

// WatermarkRepository implements the repositories.WatermarkRepository interface
type WatermarkRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewWatermarkRepository creates a new watermark repository
func NewWatermarkRepository(db *DB, logger *zap.Logger) repositories.WatermarkRepository {
	return &WatermarkRepository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves the watermark stored under key
func (r *WatermarkRepository) Get(ctx context.Context, key string) (time.Time, bool, error) {
	query := `SELECT cycle_started_at FROM cycle_watermarks WHERE key = $1`

	var at time.Time
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, key).Scan(&at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to get watermark: %w", err)
	}
	return at.UTC(), true, nil
}

// Set upserts the watermark stored under key
func (r *WatermarkRepository) Set(ctx context.Context, key string, at time.Time) error {
	query := `
		INSERT INTO cycle_watermarks (key, cycle_started_at, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET cycle_started_at = EXCLUDED.cycle_started_at, updated_at = EXCLUDED.updated_at
	`

	if _, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, key, at.UTC(), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set watermark: %w", err)
	}

	r.logger.Debug("watermark updated", zap.String("key", key), zap.Time("at", at))
	return nil
}
