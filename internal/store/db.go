package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// OpenSQLite opens (or creates) a SQLite database file and applies the
// embedded schema. Foreign keys are enabled so cascades behave as in Postgres.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps the pragma and the write lock in a single place.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return db, nil
}

// Connect opens the database for the configured driver and returns a store
// speaking its dialect. Postgres schemas are managed by ApplyMigrations.
func Connect(ctx context.Context, driver, databaseURL string) (*sql.DB, *SQLStore, error) {
	switch driver {
	case "", DriverPostgres:
		db, err := Open(ctx, databaseURL)
		if err != nil {
			return nil, nil, err
		}
		return db, NewPostgresStore(db), nil
	case DriverSQLite:
		db, err := OpenSQLite(ctx, databaseURL)
		if err != nil {
			return nil, nil, err
		}
		return db, NewSQLiteStore(db), nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
