// ABOUTME: The conversation loop: calls the model, runs requested tools, repeats until a plain answer
// ABOUTME: A bounded state machine (AWAITING_MODEL, DISPATCHING_TOOLS, DONE, FAILED) with a best-effort run ledger

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xiaolintangyuan/tool-foundry/internal/llm"
	"github.com/xiaolintangyuan/tool-foundry/internal/store"
	"github.com/xiaolintangyuan/tool-foundry/internal/tools"
)

// Limits applied when a Limits field is zero.
const (
	DefaultMaxTurns     = 16
	DefaultMaxToolCalls = 64
	DefaultDeadline     = 5 * time.Minute
)

// ErrTurnLimit is returned when the model keeps requesting tools past MaxTurns.
var ErrTurnLimit = errors.New("turn limit exceeded")

// ErrToolCallLimit is returned when a turn would push the run past MaxToolCalls.
var ErrToolCallLimit = errors.New("tool call limit exceeded")

// State is a conversation loop state.
type State int

const (
	StateAwaitingModel State = iota
	StateDispatchingTools
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "AWAITING_MODEL"
	case StateDispatchingTools:
		return "DISPATCHING_TOOLS"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RunError is the FAILED outcome. State is where the run was when it failed.
type RunError struct {
	RunID string
	State State
	Turn  int
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed in %s (turn %d): %v", e.RunID, e.State, e.Turn, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// ModelClient sends one non-streamed chat-completions request.
type ModelClient interface {
	ChatCompletion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
}

// Dispatcher runs one tool call and returns its JSON-encoded result.
type Dispatcher interface {
	Dispatch(ctx context.Context, call llm.ToolCall) (string, error)
}

// Limits bounds a single run. Zero fields use the defaults.
type Limits struct {
	MaxTurns     int
	MaxToolCalls int
	Deadline     time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.MaxTurns <= 0 {
		l.MaxTurns = DefaultMaxTurns
	}
	if l.MaxToolCalls <= 0 {
		l.MaxToolCalls = DefaultMaxToolCalls
	}
	if l.Deadline <= 0 {
		l.Deadline = DefaultDeadline
	}
	return l
}

// Config wires a Loop.
type Config struct {
	Model      string
	Client     ModelClient
	Dispatcher Dispatcher
	Manifest   tools.Manifest
	Limits     Limits

	// Ledger is optional. Writes are best effort and never fail a run.
	Ledger store.RunStore
	Logger *slog.Logger
}

// Loop runs conversations. It is safe for concurrent use: each Run owns
// its own copy of the conversation.
type Loop struct {
	model      string
	client     ModelClient
	dispatcher Dispatcher
	manifest   tools.Manifest
	limits     Limits
	ledger     store.RunStore
	logger     *slog.Logger
}

// New creates a Loop.
func New(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		model:      cfg.Model,
		client:     cfg.Client,
		dispatcher: cfg.Dispatcher,
		manifest:   cfg.Manifest,
		limits:     cfg.Limits.withDefaults(),
		ledger:     cfg.Ledger,
		logger:     logger.With("component", "conversation"),
	}
}

// Limits returns the effective limits.
func (l *Loop) Limits() Limits {
	return l.limits
}

// Request is one conversation to run.
type Request struct {
	Messages []llm.Message

	// RunID is generated when empty.
	RunID          string
	IdempotencyKey string
}

// Result is the DONE outcome.
type Result struct {
	RunID   string
	Message llm.Message

	// Conversation is the full exchange including tool traffic.
	Conversation []llm.Message
	Turns        int
	ToolCalls    int
	Usage        llm.Usage
	State        State
}

// run is the mutable state of one Run.
type run struct {
	id        string
	conv      []llm.Message
	turns     int
	toolCalls int
	usage     llm.Usage
	state     State
}

// Run drives the conversation to a final assistant message. The caller's
// context and the configured deadline both bound the run. Every failure is
// a *RunError.
func (l *Loop) Run(ctx context.Context, req Request) (*Result, error) {
	r := &run{
		id:    req.RunID,
		conv:  append(make([]llm.Message, 0, len(req.Messages)+4), req.Messages...),
		state: StateAwaitingModel,
	}
	if r.id == "" {
		r.id = uuid.New().String()
	}

	ctx, cancel := context.WithTimeout(ctx, l.limits.Deadline)
	defer cancel()

	logger := l.logger.With("run_id", r.id)
	logger.Info("run started", "model", l.model, "messages", len(req.Messages), "tools", len(l.manifest))
	l.recordStart(ctx, r, req.IdempotencyKey)

	final, err := l.drive(ctx, r, logger)
	if err != nil {
		runErr := &RunError{RunID: r.id, State: r.state, Turn: r.turns, Err: err}
		r.state = StateFailed
		l.recordFinish(ctx, r, err)
		logger.Warn("run failed",
			"failed_in", runErr.State,
			"turns", r.turns,
			"tool_calls", r.toolCalls,
			"error", err,
		)
		return nil, runErr
	}

	r.state = StateDone
	l.recordFinish(ctx, r, nil)
	logger.Info("run finished",
		"turns", r.turns,
		"tool_calls", r.toolCalls,
		"total_tokens", r.usage.TotalTokens,
	)

	return &Result{
		RunID:        r.id,
		Message:      final,
		Conversation: r.conv,
		Turns:        r.turns,
		ToolCalls:    r.toolCalls,
		Usage:        r.usage,
		State:        r.state,
	}, nil
}

// drive alternates between the model and the tools. r.state always names
// the phase in progress so a failure can report where it happened.
func (l *Loop) drive(ctx context.Context, r *run, logger *slog.Logger) (llm.Message, error) {
	for {
		r.state = StateAwaitingModel
		if r.turns >= l.limits.MaxTurns {
			return llm.Message{}, fmt.Errorf("%w: %d model calls", ErrTurnLimit, l.limits.MaxTurns)
		}
		r.turns++

		resp, err := l.client.ChatCompletion(ctx, &llm.ChatRequest{
			Model:    l.model,
			Messages: r.conv,
			Tools:    l.manifest,
		})
		if err != nil {
			return llm.Message{}, fmt.Errorf("model call: %w", err)
		}
		if resp == nil || len(resp.Choices) == 0 {
			return llm.Message{}, fmt.Errorf("model call: %w: no choices", llm.ErrMalformedResponse)
		}
		r.usage.Add(resp.Usage)

		msg := resp.Choices[0].Message
		if !msg.HasToolCalls() {
			return msg, nil
		}

		logger.Debug("model requested tools", "turn", r.turns, "count", len(msg.ToolCalls))
		r.conv = append(r.conv, msg)

		r.state = StateDispatchingTools
		if r.toolCalls+len(msg.ToolCalls) > l.limits.MaxToolCalls {
			return llm.Message{}, fmt.Errorf("%w: %d requested after %d of %d",
				ErrToolCallLimit, len(msg.ToolCalls), r.toolCalls, l.limits.MaxToolCalls)
		}

		for seq, call := range msg.ToolCalls {
			if err := ctx.Err(); err != nil {
				return llm.Message{}, err
			}

			start := time.Now()
			out, err := l.dispatcher.Dispatch(ctx, call)
			r.toolCalls++
			l.recordInvocation(ctx, r, seq, call, time.Since(start), err)
			if err != nil {
				// A tool cut short by the run deadline reports the deadline.
				if ctxErr := ctx.Err(); ctxErr != nil {
					return llm.Message{}, fmt.Errorf("%w: %w", ctxErr, err)
				}
				return llm.Message{}, err
			}

			r.conv = append(r.conv, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    out,
			})
		}
	}
}

func (l *Loop) recordStart(ctx context.Context, r *run, idempotencyKey string) {
	if l.ledger == nil {
		return
	}
	err := l.ledger.CreateRun(context.WithoutCancel(ctx), &store.Run{
		ID:             r.id,
		Model:          l.model,
		Status:         store.RunStatusRunning,
		IdempotencyKey: idempotencyKey,
		StartedAt:      time.Now(),
	})
	if err != nil {
		l.logger.Warn("failed to record run start", "run_id", r.id, "error", err)
	}
}

func (l *Loop) recordFinish(ctx context.Context, r *run, runErr error) {
	if l.ledger == nil {
		return
	}
	rec := &store.Run{
		ID:               r.id,
		Status:           store.RunStatusDone,
		Turns:            r.turns,
		ToolCalls:        r.toolCalls,
		PromptTokens:     r.usage.PromptTokens,
		CompletionTokens: r.usage.CompletionTokens,
		TotalTokens:      r.usage.TotalTokens,
	}
	if runErr != nil {
		rec.Status = store.RunStatusFailed
		rec.Error = runErr.Error()
	}
	if err := l.ledger.FinishRun(context.WithoutCancel(ctx), rec); err != nil {
		l.logger.Warn("failed to record run finish", "run_id", r.id, "error", err)
	}
}

func (l *Loop) recordInvocation(ctx context.Context, r *run, seq int, call llm.ToolCall, took time.Duration, callErr error) {
	if l.ledger == nil {
		return
	}
	inv := &store.ToolInvocation{
		ID:         uuid.New().String(),
		RunID:      r.id,
		Turn:       r.turns,
		Seq:        seq,
		CallID:     call.ID,
		ToolName:   call.Function.Name,
		Status:     store.InvocationStatusOK,
		DurationMS: took.Milliseconds(),
		CreatedAt:  time.Now(),
	}
	if callErr != nil {
		inv.Status = store.InvocationStatusError
		inv.Error = callErr.Error()
	}
	if err := l.ledger.SaveToolInvocation(context.WithoutCancel(ctx), inv); err != nil {
		l.logger.Warn("failed to record tool invocation", "run_id", r.id, "tool_name", call.Function.Name, "error", err)
	}
}
