// ABOUTME: SQLite implementation of the key-value store behind the notes tools
// ABOUTME: Upserts preserve the original creation time

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetNote creates or replaces a note.
func (s *SQLiteStore) SetNote(ctx context.Context, key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now, now)
	if err != nil {
		return fmt.Errorf("saving note: %w", err)
	}
	return nil
}

// GetNote retrieves a note by key.
// Returns ErrNotFound if the note doesn't exist.
func (s *SQLiteStore) GetNote(ctx context.Context, key string) (*Note, error) {
	var n Note
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT key, value, created_at, updated_at FROM notes WHERE key = ?`, key,
	).Scan(&n.Key, &n.Value, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying note: %w", err)
	}

	n.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	n.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &n, nil
}

// ListNotes returns all notes ordered by key.
func (s *SQLiteStore) ListNotes(ctx context.Context) ([]*Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, created_at, updated_at FROM notes ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("querying notes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var notes []*Note
	for rows.Next() {
		var n Note
		var createdAt, updatedAt string
		if err := rows.Scan(&n.Key, &n.Value, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		n.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		n.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		notes = append(notes, &n)
	}

	return notes, rows.Err()
}

// DeleteNote removes a note.
// Returns ErrNotFound if the note doesn't exist.
func (s *SQLiteStore) DeleteNote(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("deleting note: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
