// ABOUTME: SQLite implementation of the run ledger
// ABOUTME: Records runs, their tool invocations, and aggregated usage statistics

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateRun inserts a run in the running state.
// Returns ErrDuplicateRun if the ID already exists.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, model, status, idempotency_key, started_at)
		VALUES (?, ?, ?, ?, ?)
	`

	status := run.Status
	if status == "" {
		status = RunStatusRunning
	}

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Model,
		status,
		nullString(run.IdempotencyKey),
		run.StartedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateRun
		}
		return fmt.Errorf("inserting run: %w", err)
	}

	s.logger.Debug("created run", "run_id", run.ID, "model", run.Model)
	return nil
}

// FinishRun stores the terminal state and counters of a run.
// Returns ErrNotFound if the run doesn't exist.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *Run) error {
	finishedAt := time.Now().UTC()
	if run.FinishedAt != nil {
		finishedAt = run.FinishedAt.UTC()
	}

	query := `
		UPDATE runs
		SET status = ?, turns = ?, tool_calls = ?,
		    prompt_tokens = ?, completion_tokens = ?, total_tokens = ?,
		    error = ?, finished_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		run.Status,
		run.Turns,
		run.ToolCalls,
		run.PromptTokens,
		run.CompletionTokens,
		run.TotalTokens,
		nullString(run.Error),
		finishedAt.Format(time.RFC3339),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("finished run",
		"run_id", run.ID,
		"status", run.Status,
		"turns", run.Turns,
		"tool_calls", run.ToolCalls,
	)
	return nil
}

const runColumns = `
	id, model, status, idempotency_key, turns, tool_calls,
	prompt_tokens, completion_tokens, total_tokens, error, started_at, finished_at
`

// GetRun retrieves a run by ID.
// Returns ErrNotFound if the run doesn't exist.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
// If limit is 0 or negative, 50 runs are returned.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run rows: %w", err)
	}

	return runs, nil
}

// SaveToolInvocation stores one dispatched tool call.
func (s *SQLiteStore) SaveToolInvocation(ctx context.Context, inv *ToolInvocation) error {
	query := `
		INSERT INTO tool_invocations (
			id, run_id, turn, seq, call_id, tool_name, status, error, duration_ms, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		inv.ID,
		inv.RunID,
		inv.Turn,
		inv.Seq,
		inv.CallID,
		inv.ToolName,
		inv.Status,
		nullString(inv.Error),
		inv.DurationMS,
		inv.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting tool invocation: %w", err)
	}
	return nil
}

// ListToolInvocations returns a run's tool invocations in dispatch order.
func (s *SQLiteStore) ListToolInvocations(ctx context.Context, runID string) ([]*ToolInvocation, error) {
	query := `
		SELECT id, run_id, turn, seq, call_id, tool_name, status, error, duration_ms, created_at
		FROM tool_invocations
		WHERE run_id = ?
		ORDER BY turn ASC, seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("querying tool invocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ToolInvocation
	for rows.Next() {
		var inv ToolInvocation
		var errText sql.NullString
		var createdAt string

		if err := rows.Scan(
			&inv.ID, &inv.RunID, &inv.Turn, &inv.Seq, &inv.CallID, &inv.ToolName,
			&inv.Status, &errText, &inv.DurationMS, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning tool invocation: %w", err)
		}
		inv.Error = errText.String
		inv.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, &inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool invocation rows: %w", err)
	}

	return out, nil
}

// GetUsageStats returns aggregated run statistics with optional filters.
func (s *SQLiteStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	query := `
		SELECT
			COUNT(*) as run_count,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) as failed_runs,
			COALESCE(SUM(tool_calls), 0) as tool_calls,
			COALESCE(SUM(prompt_tokens), 0) as prompt_tokens,
			COALESCE(SUM(completion_tokens), 0) as completion_tokens,
			COALESCE(SUM(total_tokens), 0) as total_tokens
		FROM runs
		WHERE 1=1
	`
	args := []any{}

	if filter.Model != nil {
		query += " AND model = ?"
		args = append(args, *filter.Model)
	}
	if filter.Since != nil {
		query += " AND started_at >= ?"
		args = append(args, filter.Since.UTC().Format(time.RFC3339))
	}
	if filter.Until != nil {
		query += " AND started_at < ?"
		args = append(args, filter.Until.UTC().Format(time.RFC3339))
	}

	var stats UsageStats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.RunCount,
		&stats.FailedRuns,
		&stats.ToolCalls,
		&stats.PromptTokens,
		&stats.CompletionTokens,
		&stats.TotalTokens,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage stats: %w", err)
	}

	return &stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var idemKey, errText, finishedAt sql.NullString
	var startedAt string

	err := row.Scan(
		&run.ID, &run.Model, &run.Status, &idemKey, &run.Turns, &run.ToolCalls,
		&run.PromptTokens, &run.CompletionTokens, &run.TotalTokens,
		&errText, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	run.IdempotencyKey = idemKey.String
	run.Error = errText.String
	run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339, finishedAt.String)
		run.FinishedAt = &t
	}

	return &run, nil
}
