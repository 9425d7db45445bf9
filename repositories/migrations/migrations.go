// Package migrations embeds the state store schema for every supported dialect.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

// Dialect selects the migration set and goose dialect
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

//go:embed postgres/*.sql sqlite/*.sql
var migrationsFS embed.FS

// goose keeps its base FS and dialect in package globals
var gooseMu sync.Mutex

func dir(d Dialect) (string, error) {
	switch d {
	case DialectPostgres:
		return "postgres", nil
	case DialectSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported migration dialect: %s", d)
	}
}

// Up applies all pending migrations for the dialect
func Up(ctx context.Context, db *sql.DB, d Dialect) error {
	path, err := dir(d)
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(string(d)); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, path); err != nil {
		return fmt.Errorf("run goose migrations: %w", err)
	}
	return nil
}

// Version returns the current schema version for the dialect
func Version(ctx context.Context, db *sql.DB, d Dialect) (int64, error) {
	if _, err := dir(d); err != nil {
		return 0, err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect(string(d)); err != nil {
		return 0, fmt.Errorf("set goose dialect: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}
