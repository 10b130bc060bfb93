package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"triagesync/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	ErrTaskNotFound = errors.New("sync task not found")
)

// DB wraps the SQLite store holding the sync queue, the per-entity sync
// records and the integration error audit log.
type DB struct {
	db                *sql.DB
	logger            *zerolog.Logger
	defaultMaxRetries int
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite serializes writes; a single connection avoids SQLITE_BUSY when
	// the dispatcher and producers write concurrently.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{db: db, logger: logger, defaultMaxRetries: models.DefaultMaxRetries}, nil
}

// SetDefaultMaxRetries sets the per-queue retry budget copied onto tasks at
// enqueue time.
func (db *DB) SetDefaultMaxRetries(n int) {
	if n > 0 {
		db.defaultMaxRetries = n
	}
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id TEXT PRIMARY KEY,
            integration_type TEXT NOT NULL,
            operation TEXT NOT NULL,
            entity_type TEXT NOT NULL,
            entity_id TEXT NOT NULL,
            payload TEXT NOT NULL DEFAULT '',
            priority INTEGER NOT NULL DEFAULT 5,
            status TEXT NOT NULL DEFAULT 'queued',
            retry_count INTEGER NOT NULL DEFAULT 0,
            max_retries INTEGER NOT NULL DEFAULT 3,
            scheduled_at DATETIME NOT NULL,
            started_at DATETIME,
            completed_at DATETIME,
            error_message TEXT,
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS sync_records (
            integration_type TEXT NOT NULL,
            entity_type TEXT NOT NULL,
            entity_id TEXT NOT NULL,
            external_id TEXT NOT NULL,
            sync_status TEXT NOT NULL,
            last_synced_at DATETIME NOT NULL,
            last_modified_source TEXT NOT NULL,
            PRIMARY KEY (integration_type, entity_type, entity_id)
        )`,
		`CREATE TABLE IF NOT EXISTS integration_errors (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            integration_type TEXT NOT NULL,
            operation TEXT NOT NULL,
            entity_type TEXT NOT NULL,
            entity_id TEXT NOT NULL,
            error_message TEXT NOT NULL,
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE INDEX IF NOT EXISTS idx_sync_queue_claim ON sync_queue(status, scheduled_at, priority)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_integration ON sync_queue(integration_type)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_completed ON sync_queue(status, completed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_integration_errors_type ON integration_errors(integration_type)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// ExecContext and the query wrappers below expose the underlying handle to
// sibling files and tests.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.db.ExecContext(ctx, query, args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.db.QueryRowContext(ctx, query, args...)
}

func (db *DB) Close() error {
	return db.db.Close()
}
