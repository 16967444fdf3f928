// ABOUTME: HTTP API handlers: POST /invoke runs the conversation loop, /api/* reads the ledger.
// ABOUTME: Validates inbound messages, maps loop failures to status codes and replays idempotent requests.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/xiaolintangyuan/tool-foundry/internal/conversation"
	"github.com/xiaolintangyuan/tool-foundry/internal/llm"
	"github.com/xiaolintangyuan/tool-foundry/internal/replay"
	"github.com/xiaolintangyuan/tool-foundry/internal/store"
)

// ErrInvalidMessages is returned for a malformed /invoke body.
var ErrInvalidMessages = errors.New("invalid messages")

// MaxInvokeBodySize caps the /invoke request body (4MB).
const MaxInvokeBodySize = 4 << 20

// RenderHTML asks /invoke to also return the answer rendered from Markdown.
const RenderHTML = "html"

// InvokeRequest is the JSON request body for POST /invoke.
// Each message is either a string (a user message) or {role, content}.
type InvokeRequest struct {
	Messages []json.RawMessage `json:"messages"`
	Render   string            `json:"render,omitempty"`
}

// InvokeResponse is the JSON response for a successful POST /invoke.
type InvokeResponse struct {
	Response llm.Message `json:"response"`
	HTML     string      `json:"html,omitempty"`
}

// RunResponse is the JSON view of a ledger run.
type RunResponse struct {
	ID               string               `json:"id"`
	Model            string               `json:"model"`
	Status           string               `json:"status"`
	IdempotencyKey   string               `json:"idempotency_key,omitempty"`
	Turns            int                  `json:"turns"`
	ToolCalls        int                  `json:"tool_calls"`
	PromptTokens     int                  `json:"prompt_tokens"`
	CompletionTokens int                  `json:"completion_tokens"`
	TotalTokens      int                  `json:"total_tokens"`
	Error            string               `json:"error,omitempty"`
	StartedAt        string               `json:"started_at"`
	FinishedAt       string               `json:"finished_at,omitempty"`
	Invocations      []InvocationResponse `json:"invocations,omitempty"`
}

// InvocationResponse is the JSON view of one recorded tool call.
type InvocationResponse struct {
	Turn       int    `json:"turn"`
	Seq        int    `json:"seq"`
	CallID     string `json:"call_id"`
	ToolName   string `json:"tool_name"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// ListRunsResponse is the JSON response for GET /api/runs.
type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

// inboundMessage is the object form of an /invoke message.
type inboundMessage struct {
	Role    any `json:"role"`
	Content any `json:"content"`
}

// parseInvokeRequest decodes and validates an /invoke body. Every failure
// wraps ErrInvalidMessages.
func parseInvokeRequest(r io.Reader) ([]llm.Message, string, error) {
	var req InvokeRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, "", fmt.Errorf("%w: invalid JSON body", ErrInvalidMessages)
	}

	if len(req.Messages) == 0 {
		return nil, "", fmt.Errorf("%w: must be a non-empty array", ErrInvalidMessages)
	}
	if req.Render != "" && req.Render != RenderHTML {
		return nil, "", fmt.Errorf("%w: unsupported render %q", ErrInvalidMessages, req.Render)
	}

	msgs := make([]llm.Message, 0, len(req.Messages))
	for i, raw := range req.Messages {
		msg, err := parseMessage(raw)
		if err != nil {
			return nil, "", fmt.Errorf("%w: message %d: %v", ErrInvalidMessages, i, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, req.Render, nil
}

// parseMessage turns a string into a user message and checks the object form.
func parseMessage(raw json.RawMessage) (llm.Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var content string
		if err := json.Unmarshal(raw, &content); err != nil {
			return llm.Message{}, errors.New("invalid string")
		}
		return llm.Message{Role: llm.RoleUser, Content: content}, nil
	}

	if len(raw) == 0 || raw[0] != '{' {
		return llm.Message{}, errors.New("must be a string or an object with role and content")
	}

	var in inboundMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return llm.Message{}, errors.New("invalid object")
	}
	role, _ := in.Role.(string)
	content, _ := in.Content.(string)
	if role == "" {
		return llm.Message{}, errors.New("role must be a non-empty string")
	}
	if content == "" {
		return llm.Message{}, errors.New("content must be a non-empty string")
	}
	return llm.Message{Role: role, Content: content}, nil
}

// statusForError maps a loop failure onto an HTTP status.
func statusForError(err error) int {
	var apiErr *llm.APIError
	switch {
	case errors.Is(err, ErrInvalidMessages):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &apiErr), errors.Is(err, llm.ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage strips the run wrapper; the run id travels in X-Run-Id.
func errorMessage(err error) string {
	var runErr *conversation.RunError
	if errors.As(err, &runErr) {
		return runErr.Err.Error()
	}
	return err.Error()
}

// jsonResponse renders a response so it can be written and replayed.
func jsonResponse(status int, header http.Header, v any) replay.Response {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/json")

	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"encoding response failed"}`)
	}
	return replay.Response{Status: status, Header: header, Body: append(body, '\n')}
}

func writeResponse(w http.ResponseWriter, resp replay.Response) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeResponse(w, jsonResponse(status, nil, map[string]string{"error": message}))
}

// handleInvoke handles POST /invoke. With an Idempotency-Key header a
// completed response is replayed instead of running the tools again.
func (g *Gateway) handleInvoke(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxInvokeBodySize)
	key := r.Header.Get("Idempotency-Key")

	if key == "" || g.replay == nil {
		writeResponse(w, g.invoke(r.Context(), r.Body, ""))
		return
	}

	state, stored := g.replay.Begin(key)
	switch state {
	case replay.StateInFlight:
		g.sendJSONError(w, http.StatusConflict, "a request with this Idempotency-Key is still in progress")
		return
	case replay.StateReplay:
		g.logger.Debug("replaying idempotent response", "idempotency_key", key, "status", stored.Status)
		w.Header().Set("Idempotent-Replayed", "true")
		writeResponse(w, *stored)
		return
	}

	resp := g.invoke(r.Context(), r.Body, key)
	if resp.Status >= http.StatusInternalServerError {
		g.replay.Release(key)
	} else {
		g.replay.Complete(key, resp)
	}
	writeResponse(w, resp)
}

// invoke validates the body and runs the conversation loop.
func (g *Gateway) invoke(ctx context.Context, body io.Reader, key string) replay.Response {
	msgs, render, err := parseInvokeRequest(body)
	if err != nil {
		g.logger.Debug("rejected invoke request", "error", err)
		return jsonResponse(http.StatusBadRequest, nil, map[string]string{"error": err.Error()})
	}

	runID := uuid.New().String()
	header := http.Header{}
	header.Set("X-Run-Id", runID)

	res, err := g.loop.Run(ctx, conversation.Request{
		Messages:       msgs,
		RunID:          runID,
		IdempotencyKey: key,
	})
	if err != nil {
		status := statusForError(err)
		g.logger.Warn("invoke failed", "run_id", runID, "status", status, "error", err)
		return jsonResponse(status, header, map[string]string{"error": errorMessage(err)})
	}

	out := InvokeResponse{Response: res.Message}
	if render == RenderHTML {
		var buf bytes.Buffer
		if err := g.markdown.Convert([]byte(res.Message.Content), &buf); err != nil {
			g.logger.Warn("markdown render failed", "run_id", runID, "error", err)
		} else {
			out.HTML = buf.String()
		}
	}
	return jsonResponse(http.StatusOK, header, out)
}

// handleListTools handles GET /api/tools and returns the manifest.
func (g *Gateway) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, jsonResponse(http.StatusOK, nil, g.manifest))
}

// ledger returns the run store or writes 503 when the ledger is disabled.
func (g *Gateway) ledger(w http.ResponseWriter) store.RunStore {
	if g.store == nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "run ledger disabled (set database.path)")
		return nil
	}
	return g.store
}

func runResponse(run *store.Run) RunResponse {
	resp := RunResponse{
		ID:               run.ID,
		Model:            run.Model,
		Status:           run.Status,
		IdempotencyKey:   run.IdempotencyKey,
		Turns:            run.Turns,
		ToolCalls:        run.ToolCalls,
		PromptTokens:     run.PromptTokens,
		CompletionTokens: run.CompletionTokens,
		TotalTokens:      run.TotalTokens,
		Error:            run.Error,
		StartedAt:        run.StartedAt.Format(time.RFC3339),
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

// handleListRuns handles GET /api/runs?limit=N (default 50, max 1000).
func (g *Gateway) handleListRuns(w http.ResponseWriter, r *http.Request) {
	ledger := g.ledger(w)
	if ledger == nil {
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, 1000)
	}

	runs, err := ledger.ListRuns(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list runs", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := ListRunsResponse{Runs: make([]RunResponse, len(runs))}
	for i, run := range runs {
		out.Runs[i] = runResponse(run)
	}
	writeResponse(w, jsonResponse(http.StatusOK, nil, out))
}

// handleGetRun handles GET /api/runs/{id} and includes the tool invocations.
func (g *Gateway) handleGetRun(w http.ResponseWriter, r *http.Request) {
	ledger := g.ledger(w)
	if ledger == nil {
		return
	}

	id := r.PathValue("id")
	run, err := ledger.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get run", "run_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	invs, err := ledger.ListToolInvocations(r.Context(), id)
	if err != nil {
		g.logger.Error("failed to list tool invocations", "run_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := runResponse(run)
	for _, inv := range invs {
		out.Invocations = append(out.Invocations, InvocationResponse{
			Turn:       inv.Turn,
			Seq:        inv.Seq,
			CallID:     inv.CallID,
			ToolName:   inv.ToolName,
			Status:     inv.Status,
			Error:      inv.Error,
			DurationMS: inv.DurationMS,
		})
	}
	writeResponse(w, jsonResponse(http.StatusOK, nil, out))
}

// handleUsageStats handles GET /api/stats/usage?model=&since=&until=
// (RFC 3339 timestamps).
func (g *Gateway) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	ledger := g.ledger(w)
	if ledger == nil {
		return
	}

	q := r.URL.Query()
	var filter store.UsageFilter
	if model := q.Get("model"); model != "" {
		filter.Model = &model
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{
		{"since", &filter.Since},
		{"until", &filter.Until},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, p.name+" must be an RFC 3339 timestamp")
			return
		}
		*p.dst = &ts
	}

	stats, err := ledger.GetUsageStats(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to get usage stats", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeResponse(w, jsonResponse(http.StatusOK, nil, stats))
}
