// ABOUTME: Notes pack provides key-value storage that tools and models can share.
// ABOUTME: Backed by the SQLite store; only available when the ledger database is configured.

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xiaolintangyuan/tool-foundry/internal/store"
	"github.com/xiaolintangyuan/tool-foundry/internal/tools"
)

// NotesPack creates the notes module with key-value storage tools.
func NotesPack(s store.NoteStore) tools.Module {
	n := &notesHandlers{store: s}
	return tools.Module{
		Name: "notes",
		Export: map[string]*tools.Descriptor{
			"set": {
				Name:        "note_set",
				Description: "Store a note under a key, replacing any previous value",
				Parameters:  schemaFor[noteSetInput](),
				Invoke:      n.Set,
			},
			"get": {
				Name:        "note_get",
				Description: "Retrieve a note by key",
				Parameters:  schemaFor[noteKeyInput](),
				Invoke:      n.Get,
			},
			"list": {
				Name:        "note_list",
				Description: "List all note keys",
				Parameters:  schemaFor[noteListInput](),
				Invoke:      n.List,
			},
			"delete": {
				Name:        "note_delete",
				Description: "Delete a note",
				Parameters:  schemaFor[noteKeyInput](),
				Invoke:      n.Delete,
			},
		},
	}
}

type notesHandlers struct {
	store store.NoteStore
}

type noteSetInput struct {
	Key   string `json:"key" jsonschema:"description=Note key"`
	Value string `json:"value" jsonschema:"description=Note content"`
}

type noteListInput struct{}

type noteKeyInput struct {
	Key string `json:"key" jsonschema:"description=Note key"`
}

func (n *notesHandlers) Set(ctx context.Context, args json.RawMessage) (any, error) {
	in, err := decode[noteSetInput](args)
	if err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if err := n.store.SetNote(ctx, in.Key, in.Value); err != nil {
		return nil, err
	}
	return map[string]string{"key": in.Key, "status": "saved"}, nil
}

func (n *notesHandlers) Get(ctx context.Context, args json.RawMessage) (any, error) {
	in, err := decode[noteKeyInput](args)
	if err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	note, err := n.store.GetNote(ctx, in.Key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("note %q not found", in.Key)
	}
	if err != nil {
		return nil, err
	}
	return map[string]string{"key": note.Key, "value": note.Value}, nil
}

func (n *notesHandlers) List(ctx context.Context, args json.RawMessage) (any, error) {
	notes, err := n.store.ListNotes(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(notes))
	for i, note := range notes {
		keys[i] = note.Key
	}
	return map[string]any{"keys": keys, "count": len(keys)}, nil
}

func (n *notesHandlers) Delete(ctx context.Context, args json.RawMessage) (any, error) {
	in, err := decode[noteKeyInput](args)
	if err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if err := n.store.DeleteNote(ctx, in.Key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("note %q not found", in.Key)
		}
		return nil, err
	}
	return map[string]string{"key": in.Key, "status": "deleted"}, nil
}
