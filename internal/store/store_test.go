// ABOUTME: Tests for SQLite store setup, schema creation and migrations
// ABOUTME: Provides the setupTestStore helper shared by the package tests

package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func TestNewSQLiteStore_CreatesParentDirectories(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "ledger.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	assert.FileExists(t, dbPath)
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SetNote(context.Background(), "k", "v"))
	note, err := store.GetNote(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", note.Value)
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, first.SetNote(context.Background(), "persisted", "yes"))
	require.NoError(t, first.Close())

	// Reopening runs schema creation and migrations again; both must be idempotent.
	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	note, err := second.GetNote(context.Background(), "persisted")
	require.NoError(t, err)
	assert.Equal(t, "yes", note.Value)
}

func TestRunMigrations_AddsIdempotencyKey(t *testing.T) {
	store := setupTestStore(t)

	var exists int
	err := store.db.QueryRow(`SELECT 1 FROM pragma_table_info('runs') WHERE name = 'idempotency_key'`).Scan(&exists)
	require.NoError(t, err)
	assert.Equal(t, 1, exists)

	// A second pass is a no-op.
	require.NoError(t, store.runMigrations())
}

func TestIsConstraintViolation(t *testing.T) {
	assert.False(t, isConstraintViolation(nil))
	assert.False(t, isConstraintViolation(sql.ErrNoRows))
}
