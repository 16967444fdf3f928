// ABOUTME: Store interface and data types for tool-foundry persistence
// ABOUTME: Defines Run, ToolInvocation, Note and usage types plus the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateRun is returned when a run ID is reused
var ErrDuplicateRun = errors.New("run already exists")

// Run statuses
const (
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// Run is the audit record of one conversation loop. Message content is never stored.
type Run struct {
	ID               string
	Model            string
	Status           string
	IdempotencyKey   string
	Turns            int
	ToolCalls        int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Error            string
	StartedAt        time.Time
	FinishedAt       *time.Time
}

// Tool invocation statuses
const (
	InvocationStatusOK    = "ok"
	InvocationStatusError = "error"
)

// ToolInvocation records one dispatched tool call within a run
type ToolInvocation struct {
	ID         string
	RunID      string
	Turn       int
	Seq        int
	CallID     string
	ToolName   string
	Status     string
	Error      string
	DurationMS int64
	CreatedAt  time.Time
}

// Note is a key-value entry written by the notes tools
type Note struct {
	Key       string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UsageFilter narrows GetUsageStats. Nil fields are ignored.
type UsageFilter struct {
	Model *string
	Since *time.Time
	Until *time.Time
}

// UsageStats aggregates runs matching a UsageFilter
type UsageStats struct {
	RunCount         int64 `json:"run_count"`
	FailedRuns       int64 `json:"failed_runs"`
	ToolCalls        int64 `json:"tool_calls"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// RunStore records conversation runs and their tool invocations
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	SaveToolInvocation(ctx context.Context, inv *ToolInvocation) error
	ListToolInvocations(ctx context.Context, runID string) ([]*ToolInvocation, error)
	GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error)
}

// NoteStore backs the notes tool pack
type NoteStore interface {
	SetNote(ctx context.Context, key, value string) error
	GetNote(ctx context.Context, key string) (*Note, error)
	ListNotes(ctx context.Context) ([]*Note, error)
	DeleteNote(ctx context.Context, key string) error
}

// Store is everything SQLiteStore provides
type Store interface {
	RunStore
	NoteStore
	Close() error
}
