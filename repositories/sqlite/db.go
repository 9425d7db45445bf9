// Package sqlite is the single-node state store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/upb/hr-onboarding/repositories"
	"github.com/upb/hr-onboarding/repositories/migrations"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// timeLayout is fixed-width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the sqlite handle
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path
func Open(path string, logger *zap.Logger) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if path != MemoryPath && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one connection serializes writers and keeps an in-memory database alive
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON;", "PRAGMA busy_timeout = 5000;"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	logger.Info("sqlite state store opened", zap.String("path", path))
	return &DB{DB: db, logger: logger}, nil
}

// Migrate applies the embedded schema
func (db *DB) Migrate(ctx context.Context) error {
	if err := migrations.Up(ctx, db.DB, migrations.DialectSQLite); err != nil {
		return err
	}
	db.logger.Info("sqlite schema initialized successfully")
	return nil
}

// Close closes the database
func (db *DB) Close() error {
	db.logger.Info("closing sqlite state store")
	return db.DB.Close()
}

// NewRepositories creates the sqlite repository set
func (db *DB) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Onboarding: NewOnboardingRepository(db, db.logger),
		Watermarks: NewWatermarkRepository(db, db.logger),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}
