package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// WatermarkRepository stores cycle watermarks in sqlite
type WatermarkRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewWatermarkRepository creates a new watermark repository
func NewWatermarkRepository(db *DB, logger *zap.Logger) *WatermarkRepository {
	return &WatermarkRepository{db: db, logger: logger}
}

// Get retrieves the watermark stored under key
func (r *WatermarkRepository) Get(ctx context.Context, key string) (time.Time, bool, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT cycle_started_at FROM cycle_watermarks WHERE key = ?`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("get watermark: %w", err)
	}
	at, err := parseTime(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// Set upserts the watermark stored under key
func (r *WatermarkRepository) Set(ctx context.Context, key string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cycle_watermarks (key, cycle_started_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE
		SET cycle_started_at = excluded.cycle_started_at, updated_at = excluded.updated_at`,
		key, formatTime(at), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	r.logger.Debug("watermark updated", zap.String("key", key), zap.Time("at", at))
	return nil
}
