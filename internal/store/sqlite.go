// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database, creates the schema and applies idempotent migrations

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. ":memory:" opens a private
// in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	inMemory := path == ":memory:"
	if !inMemory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	if !inMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id                TEXT PRIMARY KEY,
			model             TEXT NOT NULL,
			status            TEXT NOT NULL,
			turns             INTEGER NOT NULL DEFAULT 0,
			tool_calls        INTEGER NOT NULL DEFAULT 0,
			prompt_tokens     INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens      INTEGER NOT NULL DEFAULT 0,
			error             TEXT,
			started_at        TEXT NOT NULL,
			finished_at       TEXT,

			CHECK (status IN ('running', 'done', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_runs_model ON runs(model);

		CREATE TABLE IF NOT EXISTS tool_invocations (
			id          TEXT PRIMARY KEY,
			run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			turn        INTEGER NOT NULL,
			seq         INTEGER NOT NULL,
			call_id     TEXT NOT NULL,
			tool_name   TEXT NOT NULL,
			status      TEXT NOT NULL,
			error       TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL,

			CHECK (status IN ('ok', 'error'))
		);

		CREATE INDEX IF NOT EXISTS idx_tool_invocations_run ON tool_invocations(run_id, turn, seq);
		CREATE INDEX IF NOT EXISTS idx_tool_invocations_tool ON tool_invocations(tool_name);

		CREATE TABLE IF NOT EXISTS notes (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "runs",
			column: "idempotency_key",
			apply:  `ALTER TABLE runs ADD COLUMN idempotency_key TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		check := fmt.Sprintf(`SELECT 1 FROM pragma_table_info('%s') WHERE name = ?`, m.table)
		err := s.db.QueryRow(check, m.column).Scan(&exists)
		if err == nil {
			continue
		}

		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString converts an empty string to a NULL column value
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
