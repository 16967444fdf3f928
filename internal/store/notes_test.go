// ABOUTME: Tests for the notes key-value store
// ABOUTME: Covers upsert, lookup, listing and deletion

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Notes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetNote(ctx, "customer", "ACME"))
	require.NoError(t, store.SetNote(ctx, "address", "1 Main St"))

	note, err := store.GetNote(ctx, "customer")
	require.NoError(t, err)
	assert.Equal(t, "ACME", note.Value)
	created := note.CreatedAt

	t.Run("upsert replaces value", func(t *testing.T) {
		require.NoError(t, store.SetNote(ctx, "customer", "ACME Corp"))

		note, err := store.GetNote(ctx, "customer")
		require.NoError(t, err)
		assert.Equal(t, "ACME Corp", note.Value)
		assert.True(t, created.Equal(note.CreatedAt))
	})

	t.Run("list is ordered by key", func(t *testing.T) {
		notes, err := store.ListNotes(ctx)
		require.NoError(t, err)
		require.Len(t, notes, 2)
		assert.Equal(t, "address", notes[0].Key)
		assert.Equal(t, "customer", notes[1].Key)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteNote(ctx, "address"))
		_, err := store.GetNote(ctx, "address")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.DeleteNote(ctx, "address"), ErrNotFound)
	})
}
