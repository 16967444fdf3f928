// ABOUTME: Tests for the conversation loop state machine
// ABOUTME: Drives the loop with a scripted model and a real tool router, plus the SQLite ledger

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaolintangyuan/tool-foundry/internal/llm"
	"github.com/xiaolintangyuan/tool-foundry/internal/store"
	"github.com/xiaolintangyuan/tool-foundry/internal/tools"
)

// scriptedModel answers each chat request with the next scripted step.
type scriptedModel struct {
	mu       sync.Mutex
	steps    []func(req *llm.ChatRequest) (*llm.ChatResponse, error)
	requests [][]llm.Message
}

func (m *scriptedModel) ChatCompletion(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, append([]llm.Message(nil), req.Messages...))
	if len(m.steps) == 0 {
		return nil, errors.New("model script exhausted")
	}
	step := m.steps[0]
	if len(m.steps) > 1 {
		m.steps = m.steps[1:]
	}
	return step(req)
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func answer(content string) func(*llm.ChatRequest) (*llm.ChatResponse, error) {
	return func(*llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{
			Choices: []llm.Choice{{Message: llm.Message{Role: llm.RoleAssistant, Content: content}}},
			Usage:   &llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}, nil
	}
}

func requestTools(calls ...llm.ToolCall) func(*llm.ChatRequest) (*llm.ChatResponse, error) {
	return func(*llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{
			Choices: []llm.Choice{{Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: calls}}},
			Usage:   &llm.Usage{PromptTokens: 20, CompletionTokens: 2, TotalTokens: 22},
		}, nil
	}
}

func fail(err error) func(*llm.ChatRequest) (*llm.ChatResponse, error) {
	return func(*llm.ChatRequest) (*llm.ChatResponse, error) { return nil, err }
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{
		ID:       id,
		Type:     llm.ToolTypeFunction,
		Function: llm.ToolCallFunction{Name: name, Arguments: args},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// invocationLog records tool invocations in order.
type invocationLog struct {
	mu    sync.Mutex
	names []string
}

func (l *invocationLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

func (l *invocationLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

// setupTestRouter registers echo, add and slow tools.
func setupTestRouter(t *testing.T, log *invocationLog) (*tools.Router, tools.Manifest) {
	t.Helper()

	params := json.RawMessage(`{"type":"object"}`)
	module := tools.Module{Name: "test", Export: map[string]*tools.Descriptor{
		"echo": {
			Name: "echo", Description: "Echo arguments", Parameters: params,
			Invoke: func(_ context.Context, args json.RawMessage) (any, error) {
				log.add("echo")
				return json.RawMessage(args), nil
			},
		},
		"add": {
			Name: "add", Description: "Add numbers", Parameters: params,
			Invoke: func(_ context.Context, args json.RawMessage) (any, error) {
				log.add("add")
				var in struct {
					Numbers []float64 `json:"numbers"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				sum := 0.0
				for _, n := range in.Numbers {
					sum += n
				}
				return map[string]float64{"sum": sum}, nil
			},
		},
		"slow": {
			Name: "slow", Description: "Blocks until cancelled", Parameters: params,
			Invoke: func(ctx context.Context, _ json.RawMessage) (any, error) {
				log.add("slow")
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
	}}

	registry := tools.NewRegistry(tools.RegistryConfig{Logger: testLogger()})
	require.NoError(t, registry.RegisterModule(module))
	registry.Seal()

	manifest, err := tools.BuildManifest([]tools.Module{module})
	require.NoError(t, err)

	return tools.NewRouter(tools.RouterConfig{Registry: registry, Logger: testLogger()}), manifest
}

func newTestLoop(t *testing.T, model ModelClient, limits Limits, ledger store.RunStore) (*Loop, *invocationLog) {
	t.Helper()
	log := &invocationLog{}
	router, manifest := setupTestRouter(t, log)
	return New(Config{
		Model:      "test-model",
		Client:     model,
		Dispatcher: router,
		Manifest:   manifest,
		Limits:     limits,
		Ledger:     ledger,
		Logger:     testLogger(),
	}), log
}

func userMessages(content string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: content}}
}

func TestLoop_PlainAnswer(t *testing.T) {
	model := &scriptedModel{steps: []func(*llm.ChatRequest) (*llm.ChatResponse, error){answer("hello")}}
	loop, log := newTestLoop(t, model, Limits{}, nil)

	res, err := loop.Run(context.Background(), Request{Messages: userMessages("hi")})
	require.NoError(t, err)

	assert.Equal(t, 1, model.calls(), "exactly one model call")
	assert.Equal(t, "hello", res.Message.Content)
	assert.Equal(t, llm.RoleAssistant, res.Message.Role)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, res.Turns)
	assert.Zero(t, res.ToolCalls)
	assert.Empty(t, log.list())
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 15, res.Usage.TotalTokens)
}

func TestLoop_SendsManifest(t *testing.T) {
	var seen []llm.ToolParam
	model := &scriptedModel{steps: []func(*llm.ChatRequest) (*llm.ChatResponse, error){
		func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
			seen = req.Tools
			assert.Equal(t, "test-model", req.Model)
			return answer("ok")(req)
		},
	}}
	loop, _ := newTestLoop(t, model, Limits{}, nil)

	_, err := loop.Run(context.Background(), Request{Messages: userMessages("hi")})
	require.NoError(t, err)

	names := make([]string, 0, len(seen))
	for _, p := range seen {
		names = append(names, p.Function.Name)
	}
	assert.Equal(t, []string{"add", "echo", "slow"}, names)
}

func TestLoop_ToolResultsInOrder(t *testing.T) {
	model := &scriptedModel{steps: []func(*llm.ChatRequest) (*llm.ChatResponse, error){
		requestTools(
			toolCall("call_1", "add", `{"numbers":[1,2,3]}`),
			toolCall("call_2", "echo", `{"x":1}`),
		),
		answer("The sum is 6"),
	}}
	loop, log := newTestLoop(t, model, Limits{}, nil)

	res, err := loop.Run(context.Background(), Request{Messages: userMessages("add 1 2 3")})
	require.NoError(t, err)

	assert.Equal(t, "The sum is 6", res.Message.Content)
	assert.Equal(t, 2, res.Turns)
	assert.Equal(t, 2, res.ToolCalls)
	assert.Equal(t, []string{"add", "echo"}, log.list())

	require.Equal(t, 2, model.calls())
	second := model.requests[1]
	require.Len(t, second, 4)
	assert.Equal(t, llm.RoleUser, second[0].Role)
	assert.Equal(t, llm.RoleAssistant, second[1].Role)
	assert.Len(t, second[1].ToolCalls, 2)

	assert.Equal(t, llm.RoleTool, second[2].Role)
	assert.Equal(t, "call_1", second[2].ToolCallID)
	assert.JSONEq(t, `{"sum":6}`, second[2].Content)

	assert.Equal(t, llm.RoleTool, second[3].Role)
	assert.Equal(t, "call_2", second[3].ToolCallID)
	assert.JSONEq(t, `{"x":1}`, second[3].Content)

	assert.Len(t, res.Conversation, 4)
	assert.Equal(t, 22+15, res.Usage.TotalTokens)
}

func TestLoop_DoesNotMutateInput(t *testing.T) {
	model := &scriptedModel{steps: []func(*llm.ChatRequest) (*llm.ChatResponse, error){
		requestTools(toolCall("c1", "echo", `{}`)),
		answer("done"),
	}}
	loop, _ := newTestLoop(t, model, Limits{}, nil)

	in := make([]llm.Message, 1, 8)
	in[0] = llm.Message{Role: llm.RoleUser, Content: "hi"}

	_, err := loop.Run(context.Background(), Request{Messages: in})
	require.NoError(t, err)

	assert.Len(t, in, 1)
	assert.Equal(t, llm.Message{}, in[:2][1], "backing array must not be written")
}

func TestLoop_UnknownTool(t *testing.T) {
	model := &scriptedModel{steps: []func(*llm.ChatRequest) (*llm.ChatResponse, error){
		requestTools(toolCall("call_1", "weather", `{}`)),
		answer("should not be reached"),
	}}
	loop, log := newTestLoop(t, model, Limits{}, nil)

	res, err := loop.Run(context.Background(), Request{Messages: userMessages("weather?")})
	require.Error(t, err)
	assert.Nil(t, res)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, StateDispatchingTools, runErr.State)
	assert.Equal(t, 1, runErr.Turn)

	var dispatchErr *tools.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, "weather", dispatchErr.Tool)
	assert.ErrorIs(t, err, tools.ErrToolNotFound)

	assert.Equal(t, 1, model.calls(), "no further model call after a dispatch failure")
	assert.Empty(t, log.list())
}

func TestLoop_StopsAtFirstFailingCall(t *testing.T) {
	model := &scriptedModel{steps: []func(*llm.ChatRequest) (*llm.ChatResponse, error){
		requestTools(
			toolCall("c1", "echo", `{}`),
			toolCall("c2", "echo", `not json`),
			toolCall("c3", "add", `{"numbers":[1]}`),
		),
	}}
	loop, log := newTestLoop(t, model, Limits{}, nil)

	_, err := loop.Run(context.Background(), Request{Messages: userMessages("go")})
	require.Error(t, err)
	assert.ErrorIs(t, err, tools.ErrInvalidArguments)
	assert.Equal(t, []string{"echo"}, log.list())
}

func TestLoop_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name  string
		step  func(*llm.ChatRequest) (*llm.ChatResponse, error)
		check func(t *testing.T, err error)
	}{
		{
			name: "non-2xx status",
			step: fail(&llm.APIError{StatusCode: 500, Body: "upstream down"}),
			check: func(t *testing.T, err error) {
				var apiErr *llm.APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, 500, apiErr.StatusCode)
			},
		},
		{
			name: "no choices",
			step: func(*llm.ChatRequest) (*llm.ChatResponse, error) { return &llm.ChatResponse{}, nil },
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, llm.ErrMalformedResponse)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &scriptedModel{steps: []func(*llm.ChatRequest) (*llm.ChatResponse, error){tt.step}}
			loop, log := newTestLoop(t, model, Limits{}, nil)

			_, err := loop.Run(context.Background(), Request{Messages: userMessages("hi")})
			require.Error(t, err)

			var runErr *RunError
			require.ErrorAs(t, err, &runErr)
			assert.Equal(t, StateAwaitingModel, runErr.State)
			tt.check(t, err)
			assert.Empty(t, log.list(), "no tool invoked")
		})
	}
}

func TestLoop_TurnLimit(t *testing.T) {
	model := &scriptedModel{steps: []func(*llm.ChatRequest) (*llm.ChatResponse, error){
		requestTools(toolCall("c", "echo", `{}`)),
	}}
	loop, log := newTestLoop(t, model, Limits{MaxTurns: 3}, nil)

	_, err := loop.Run(context.Background(), Request{Messages: userMessages("loop forever")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTurnLimit)
	assert.Equal(t, 3, model.calls())
	assert.Len(t, log.list(), 3)
}

func TestLoop_ToolCallLimit(t *testing.T) {
	model := &scriptedModel{steps: []func(*llm.ChatRequest) (*llm.ChatResponse, error){
		requestTools(toolCall("c1", "echo", `{}`), toolCall("c2", "echo", `{}`)),
	}}
	loop, log := newTestLoop(t, model, Limits{MaxToolCalls: 1}, nil)

	_, err := loop.Run(context.Background(), Request{Messages: userMessages("two please")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolCallLimit)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, StateDispatchingTools, runErr.State)
	assert.Empty(t, log.list(), "an over-budget turn runs none of its calls")
}

func TestLoop_Deadline(t *testing.T) {
	model := &scriptedModel{steps: []func(*llm.ChatRequest) (*llm.ChatResponse, error){
		requestTools(toolCall("c1", "slow", `{}`)),
	}}
	loop, _ := newTestLoop(t, model, Limits{Deadline: 50 * time.Millisecond}, nil)

	start := time.Now()
	_, err := loop.Run(context.Background(), Request{Messages: userMessages("wait")})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLoop_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := &scriptedModel{steps: []func(*llm.ChatRequest) (*llm.ChatResponse, error){
		requestTools(toolCall("c1", "echo", `{}`)),
	}}
	loop, log := newTestLoop(t, model, Limits{}, nil)

	_, err := loop.Run(ctx, Request{Messages: userMessages("hi")})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, log.list())
}

func TestLoop_DefaultLimits(t *testing.T) {
	loop := New(Config{})
	assert.Equal(t, Limits{
		MaxTurns:     DefaultMaxTurns,
		MaxToolCalls: DefaultMaxToolCalls,
		Deadline:     DefaultDeadline,
	}, loop.Limits())
}

func setupLedger(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoop_LedgerRecordsRun(t *testing.T) {
	ledger := setupLedger(t)
	model := &scriptedModel{steps: []func(*llm.ChatRequest) (*llm.ChatResponse, error){
		requestTools(toolCall("call_1", "add", `{"numbers":[2,2]}`), toolCall("call_2", "echo", `{}`)),
		answer("4"),
	}}
	loop, _ := newTestLoop(t, model, Limits{}, ledger)
	ctx := context.Background()

	res, err := loop.Run(ctx, Request{Messages: userMessages("2+2"), RunID: "run-1", IdempotencyKey: "key-1"})
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)

	run, err := ledger.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusDone, run.Status)
	assert.Equal(t, "test-model", run.Model)
	assert.Equal(t, "key-1", run.IdempotencyKey)
	assert.Equal(t, 2, run.Turns)
	assert.Equal(t, 2, run.ToolCalls)
	assert.Equal(t, 37, run.TotalTokens)
	assert.NotNil(t, run.FinishedAt)

	invs, err := ledger.ListToolInvocations(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, invs, 2)
	assert.Equal(t, "add", invs[0].ToolName)
	assert.Equal(t, "call_1", invs[0].CallID)
	assert.Equal(t, 0, invs[0].Seq)
	assert.Equal(t, "echo", invs[1].ToolName)
	assert.Equal(t, store.InvocationStatusOK, invs[1].Status)
}

func TestLoop_LedgerRecordsFailure(t *testing.T) {
	ledger := setupLedger(t)
	model := &scriptedModel{steps: []func(*llm.ChatRequest) (*llm.ChatResponse, error){
		requestTools(toolCall("call_1", "weather", `{}`)),
	}}
	loop, _ := newTestLoop(t, model, Limits{}, ledger)
	ctx := context.Background()

	_, err := loop.Run(ctx, Request{Messages: userMessages("weather"), RunID: "run-2"})
	require.Error(t, err)

	run, err := ledger.GetRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "tool not found")

	invs, err := ledger.ListToolInvocations(ctx, "run-2")
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, store.InvocationStatusError, invs[0].Status)
}

// brokenLedger fails every write.
type brokenLedger struct{ store.RunStore }

func (brokenLedger) CreateRun(context.Context, *store.Run) error { return errors.New("disk full") }
func (brokenLedger) FinishRun(context.Context, *store.Run) error { return errors.New("disk full") }
func (brokenLedger) SaveToolInvocation(context.Context, *store.ToolInvocation) error {
	return errors.New("disk full")
}

func TestLoop_LedgerFailureDoesNotFailRun(t *testing.T) {
	model := &scriptedModel{steps: []func(*llm.ChatRequest) (*llm.ChatResponse, error){
		requestTools(toolCall("c1", "echo", `{}`)),
		answer("fine"),
	}}
	loop, _ := newTestLoop(t, model, Limits{}, brokenLedger{})

	res, err := loop.Run(context.Background(), Request{Messages: userMessages("hi")})
	require.NoError(t, err)
	assert.Equal(t, "fine", res.Message.Content)
}

func TestLoop_ConcurrentRuns(t *testing.T) {
	model := &scriptedModel{steps: []func(*llm.ChatRequest) (*llm.ChatResponse, error){answer("ok")}}
	loop, _ := newTestLoop(t, model, Limits{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := loop.Run(context.Background(), Request{Messages: userMessages("hi")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, model.calls())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "AWAITING_MODEL", StateAwaitingModel.String())
	assert.Equal(t, "DISPATCHING_TOOLS", StateDispatchingTools.String())
	assert.Equal(t, "DONE", StateDone.String())
	assert.Equal(t, "FAILED", StateFailed.String())
	assert.Equal(t, "State(9)", State(9).String())
}
