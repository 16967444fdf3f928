// ABOUTME: Routes a single model tool call to its registered callable.
// ABOUTME: Handles lookup, argument parsing and validation, timeouts and panics.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xiaolintangyuan/tool-foundry/internal/llm"
)

// ErrToolNotFound indicates the requested tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

// ErrInvalidArguments indicates the arguments are not a JSON object matching the schema.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// ErrToolFailed indicates the tool returned an error, panicked or timed out.
var ErrToolFailed = errors.New("tool failed")

// DefaultTimeout is the default timeout for tool execution.
const DefaultTimeout = 30 * time.Second

// DispatchError describes a tool call that could not be completed.
type DispatchError struct {
	Tool   string
	CallID string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatching tool %q (call %s): %v", e.Tool, e.CallID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Router dispatches tool calls against a Registry.
type Router struct {
	registry *Registry
	logger   *slog.Logger
	timeout  time.Duration
}

// RouterConfig contains configuration options for the Router.
type RouterConfig struct {
	Registry *Registry
	Logger   *slog.Logger
	Timeout  time.Duration
}

// NewRouter creates a new Router with the given configuration.
func NewRouter(cfg RouterConfig) *Router {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		registry: cfg.Registry,
		logger:   logger,
		timeout:  timeout,
	}
}

// Dispatch runs one tool call and returns the JSON-encoded result.
// Every failure is a *DispatchError wrapping ErrToolNotFound,
// ErrInvalidArguments or ErrToolFailed.
func (r *Router) Dispatch(ctx context.Context, call llm.ToolCall) (string, error) {
	name := call.Function.Name
	fail := func(err error) (string, error) {
		return "", &DispatchError{Tool: name, CallID: call.ID, Err: err}
	}

	tool := r.registry.Lookup(name)
	if tool == nil {
		r.logger.Debug("tool not found in registry", "tool_name", name, "call_id", call.ID)
		return fail(ErrToolNotFound)
	}

	args, err := parseArguments(call.Function.Arguments)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidArguments, err))
	}
	if tool.schema != nil {
		var instance any
		if err := json.Unmarshal(args, &instance); err != nil {
			return fail(fmt.Errorf("%w: %v", ErrInvalidArguments, err))
		}
		if err := tool.schema.Validate(instance); err != nil {
			return fail(fmt.Errorf("%w: %v", ErrInvalidArguments, err))
		}
	}

	r.logger.Info("→ dispatching tool",
		"tool_name", name,
		"module", tool.Module,
		"call_id", call.ID,
	)

	start := time.Now()
	result, err := r.invoke(ctx, tool, args)
	if err != nil {
		r.logger.Warn("tool error",
			"tool_name", name,
			"call_id", call.ID,
			"duration", time.Since(start),
			"error", err,
		)
		return fail(fmt.Errorf("%w: %v", ErrToolFailed, err))
	}

	out, err := json.Marshal(result)
	if err != nil {
		return fail(fmt.Errorf("%w: encoding result: %v", ErrToolFailed, err))
	}

	r.logger.Info("← tool responded",
		"tool_name", name,
		"call_id", call.ID,
		"duration", time.Since(start),
	)
	return string(out), nil
}

// invoke calls the handler under the router timeout. A handler that ignores
// its context is abandoned when the timeout fires.
func (r *Router) invoke(ctx context.Context, tool *Tool, args json.RawMessage) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		res, err := tool.Descriptor.Invoke(ctx, args)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// parseArguments accepts the model's JSON-encoded argument string.
// An empty string is treated as an empty object.
func parseArguments(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return json.RawMessage(`{}`), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	if obj == nil {
		return json.RawMessage(`{}`), nil
	}
	return json.RawMessage(raw), nil
}
