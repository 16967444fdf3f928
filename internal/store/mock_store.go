// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	runs        map[string]*Run              // keyed by run ID
	runOrder    []string                     // insertion order
	invocations map[string][]*ToolInvocation // keyed by run ID
	notes       map[string]*Note             // keyed by note key
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		runs:        make(map[string]*Run),
		invocations: make(map[string][]*ToolInvocation),
		notes:       make(map[string]*Note),
	}
}

// CreateRun stores a new run. Returns ErrDuplicateRun if the ID exists.
func (m *MockStore) CreateRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[run.ID]; exists {
		return ErrDuplicateRun
	}

	// Make a copy to avoid external modification
	r := *run
	if r.Status == "" {
		r.Status = RunStatusRunning
	}
	m.runs[r.ID] = &r
	m.runOrder = append(m.runOrder, r.ID)
	return nil
}

// FinishRun updates the terminal state of a run.
func (m *MockStore) FinishRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.runs[run.ID]
	if !ok {
		return ErrNotFound
	}

	finishedAt := time.Now().UTC()
	if run.FinishedAt != nil {
		finishedAt = run.FinishedAt.UTC()
	}

	existing.Status = run.Status
	existing.Turns = run.Turns
	existing.ToolCalls = run.ToolCalls
	existing.PromptTokens = run.PromptTokens
	existing.CompletionTokens = run.CompletionTokens
	existing.TotalTokens = run.TotalTokens
	existing.Error = run.Error
	existing.FinishedAt = &finishedAt
	return nil
}

// GetRun retrieves a run by ID.
func (m *MockStore) GetRun(ctx context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r
	return &out, nil
}

// ListRuns returns the most recent runs, newest first.
func (m *MockStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	runs := make([]*Run, 0, len(m.runOrder))
	for i := len(m.runOrder) - 1; i >= 0; i-- {
		r := *m.runs[m.runOrder[i]]
		runs = append(runs, &r)
	}
	// Stable keeps insertion order for runs started in the same instant.
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// SaveToolInvocation records a tool call against a run.
func (m *MockStore) SaveToolInvocation(ctx context.Context, inv *ToolInvocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := *inv
	m.invocations[i.RunID] = append(m.invocations[i.RunID], &i)
	return nil
}

// ListToolInvocations returns a run's invocations ordered by turn and seq.
func (m *MockStore) ListToolInvocations(ctx context.Context, runID string) ([]*ToolInvocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.invocations[runID]
	out := make([]*ToolInvocation, len(src))
	for i, inv := range src {
		c := *inv
		out[i] = &c
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Turn != out[j].Turn {
			return out[i].Turn < out[j].Turn
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

// GetUsageStats aggregates runs matching filter.
func (m *MockStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats UsageStats
	for _, r := range m.runs {
		if filter.Model != nil && r.Model != *filter.Model {
			continue
		}
		if filter.Since != nil && r.StartedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && !r.StartedAt.Before(*filter.Until) {
			continue
		}

		stats.RunCount++
		if r.Status == RunStatusFailed {
			stats.FailedRuns++
		}
		stats.ToolCalls += int64(r.ToolCalls)
		stats.PromptTokens += int64(r.PromptTokens)
		stats.CompletionTokens += int64(r.CompletionTokens)
		stats.TotalTokens += int64(r.TotalTokens)
	}
	return &stats, nil
}

// SetNote creates or replaces a note, keeping its creation time.
func (m *MockStore) SetNote(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if n, ok := m.notes[key]; ok {
		n.Value = value
		n.UpdatedAt = now
		return nil
	}
	m.notes[key] = &Note{Key: key, Value: value, CreatedAt: now, UpdatedAt: now}
	return nil
}

// GetNote retrieves a note by key.
func (m *MockStore) GetNote(ctx context.Context, key string) (*Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.notes[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := *n
	return &out, nil
}

// ListNotes returns all notes ordered by key.
func (m *MockStore) ListNotes(ctx context.Context) ([]*Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var notes []*Note
	for _, n := range m.notes {
		c := *n
		notes = append(notes, &c)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].Key < notes[j].Key })
	return notes, nil
}

// DeleteNote removes a note.
func (m *MockStore) DeleteNote(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.notes[key]; !ok {
		return ErrNotFound
	}
	delete(m.notes, key)
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
