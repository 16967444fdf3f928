// ABOUTME: MCP-compatible HTTP server exposing the dispatch table to MCP clients.
// ABOUTME: Implements Streamable HTTP transport (protocol revision 2025-11-25) with session management.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaolintangyuan/tool-foundry/internal/llm"
	"github.com/xiaolintangyuan/tool-foundry/internal/tools"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2024-11-05": true,
	"2025-03-26": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version we advertise in initialize responses
const latestProtocolVersion = "2025-11-25"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// MCP-specific types

// MCPToolInfo represents an MCP tool definition.
type MCPToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// MCPListToolsResult is the result for tools/list.
type MCPListToolsResult struct {
	Tools []MCPToolInfo `json:"tools"`
}

// MCPCallToolParams are the params for tools/call.
type MCPCallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MCPCallToolResult is the result for tools/call.
type MCPCallToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// MCPContent represents content in a tool result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Session limits used when Config leaves them zero.
const (
	DefaultSessionTTL  = 30 * time.Minute
	DefaultMaxSessions = 1024
)

// mcpSession tracks an active MCP client session.
type mcpSession struct {
	id              string
	protocolVersion string
	createdAt       time.Time
	lastSeen        time.Time
}

// sessionStore manages active MCP sessions (in-memory). Sessions idle longer
// than ttl are pruned on the next create, and the oldest idle session is
// evicted once maxSize is reached.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*mcpSession
	ttl      time.Duration
	maxSize  int
	now      func() time.Time
}

func newSessionStore(ttl time.Duration, maxSize int) *sessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSessions
	}
	return &sessionStore{
		sessions: make(map[string]*mcpSession),
		ttl:      ttl,
		maxSize:  maxSize,
		now:      time.Now,
	}
}

func (s *sessionStore) create(protocolVersion string) (*mcpSession, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)
	if len(s.sessions) >= s.maxSize {
		s.evictOldestLocked()
	}

	sess := &mcpSession{
		id:              uuid.New().String(),
		protocolVersion: protocolVersion,
		createdAt:       now,
		lastSeen:        now,
	}
	s.sessions[sess.id] = sess
	return sess, len(s.sessions)
}

// get returns a live session and marks it as seen.
func (s *sessionStore) get(id string) (*mcpSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	now := s.now()
	if now.Sub(sess.lastSeen) > s.ttl {
		delete(s.sessions, id)
		return nil, false
	}
	sess.lastSeen = now
	return sess, true
}

func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	return existed
}

func (s *sessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *sessionStore) pruneLocked(now time.Time) {
	for id, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > s.ttl {
			delete(s.sessions, id)
		}
	}
}

func (s *sessionStore) evictOldestLocked() {
	var oldest *mcpSession
	for _, sess := range s.sessions {
		if oldest == nil || sess.lastSeen.Before(oldest.lastSeen) {
			oldest = sess
		}
	}
	if oldest != nil {
		delete(s.sessions, oldest.id)
	}
}

// Dispatcher runs one tool call; *tools.Router satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, call llm.ToolCall) (string, error)
}

// Config holds configuration for the MCP server.
type Config struct {
	Registry *tools.Registry
	Router   Dispatcher
	Manifest tools.Manifest
	Logger   *slog.Logger
	Version  string

	// SessionTTL is how long an idle session survives. Defaults to DefaultSessionTTL.
	SessionTTL time.Duration
	// MaxSessions caps live sessions. Defaults to DefaultMaxSessions.
	MaxSessions int
}

// Server implements MCP-compatible HTTP endpoints over the dispatch table.
// Conforms to MCP Streamable HTTP transport, revision 2025-11-25.
type Server struct {
	router   Dispatcher
	tools    []MCPToolInfo
	logger   *slog.Logger
	version  string
	sessions *sessionStore
}

// NewServer creates a new MCP server with the given configuration.
// Only manifest entries with a registered callable are advertised.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Router == nil {
		return nil, errors.New("router is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	listed := make([]MCPToolInfo, 0, len(cfg.Manifest))
	for _, entry := range cfg.Manifest {
		if entry.Function == nil || cfg.Registry.Lookup(entry.Function.Name) == nil {
			continue
		}
		listed = append(listed, MCPToolInfo{
			Name:        entry.Function.Name,
			Description: entry.Function.Description,
			InputSchema: entry.Function.Parameters,
		})
	}

	return &Server{
		router:   cfg.Router,
		tools:    listed,
		logger:   logger.With("component", "mcp"),
		version:  version,
		sessions: newSessionStore(cfg.SessionTTL, cfg.MaxSessions),
	}, nil
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
}

// handleMCP is the single MCP endpoint supporting POST, GET, and DELETE per the
// Streamable HTTP transport, revision 2025-11-25.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		// We don't support server-initiated SSE streams
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete terminates a session as Streamable HTTP requires.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}

	if !s.sessions.delete(sessionID) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	s.logger.Info("MCP session terminated",
		"session_id", sessionID,
		"active_sessions", s.sessions.count(),
	)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
// Clients that never send Mcp-Session-Id are served statelessly; an unknown
// session id means the session ended and the client must re-initialize.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	protoVersion := r.Header.Get("Mcp-Protocol-Version")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "request body too large", nil)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "invalid JSON", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}

	isInitialize := req.Method == "initialize"
	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	if !isInitialize && protoVersion != "" && !supportedProtocolVersions[protoVersion] {
		http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
		return
	}

	if !isInitialize && sessionID != "" {
		if _, ok := s.sessions.get(sessionID); !ok {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
	}

	s.logger.Debug("MCP request",
		"method", req.Method,
		"is_notification", isNotification,
		"session_id", sessionID,
	)

	// Notifications get HTTP 202 with no body
	if isNotification {
		if strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Debug("accepted MCP notification", "method", req.Method)
		} else {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, req)
	case "ping":
		s.sendJSONRPCResult(w, req.ID, map[string]any{})
	case "tools/list":
		s.handleToolsList(w, req)
	case "tools/call":
		s.handleToolsCall(w, r, req)
	default:
		s.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}
}

// handleInitialize handles the MCP initialize handshake and creates a session.
func (s *Server) handleInitialize(w http.ResponseWriter, req JSONRPCRequest) {
	sess, active := s.sessions.create(latestProtocolVersion)

	s.logger.Info("MCP session created",
		"session_id", sess.id,
		"protocol_version", sess.protocolVersion,
		"active_sessions", active,
	)

	w.Header().Set("Mcp-Session-Id", sess.id)

	result := map[string]any{
		"protocolVersion": latestProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "tool-foundry",
			"version": s.version,
		},
	}
	s.sendJSONRPCResult(w, req.ID, result)
}

func (s *Server) handleToolsList(w http.ResponseWriter, req JSONRPCRequest) {
	s.logger.Debug("tools/list", "count", len(s.tools))
	s.sendJSONRPCResult(w, req.ID, MCPListToolsResult{Tools: s.tools})
}

// handleToolsCall routes tools/call through the same router the
// conversation loop uses. Tool failures are reported in the result with
// isError set; lookup and argument problems are JSON-RPC errors.
func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}

	if params.Name == "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool name is required", nil)
		return
	}

	requestID := uuid.New().String()

	arguments := string(params.Arguments)
	if arguments == "null" {
		arguments = ""
	}

	s.logger.Debug("tools/call",
		"tool_name", params.Name,
		"request_id", requestID,
	)

	out, err := s.router.Dispatch(r.Context(), llm.ToolCall{
		ID:       requestID,
		Type:     llm.ToolTypeFunction,
		Function: llm.ToolCallFunction{Name: params.Name, Arguments: arguments},
	})
	if err != nil {
		s.handleToolError(w, req.ID, params.Name, requestID, err)
		return
	}

	s.sendJSONRPCResult(w, req.ID, MCPCallToolResult{
		Content: []MCPContent{{Type: "text", Text: out}},
	})
}

// handleToolError maps dispatch failures onto MCP responses.
func (s *Server) handleToolError(w http.ResponseWriter, id json.RawMessage, toolName, requestID string, err error) {
	s.logger.Warn("tool execution failed",
		"tool_name", toolName,
		"request_id", requestID,
		"error", err,
	)

	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		s.sendJSONRPCError(w, id, JSONRPCInvalidParams, "tool not found", nil)
	case errors.Is(err, tools.ErrInvalidArguments):
		s.sendJSONRPCError(w, id, JSONRPCInvalidParams, "invalid arguments", err.Error())
	case errors.Is(err, context.Canceled):
		s.sendJSONRPCError(w, id, JSONRPCInternalError, "request cancelled", nil)
	default:
		s.sendJSONRPCResult(w, id, MCPCallToolResult{
			Content: []MCPContent{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
	}
}

// sendJSONRPCResult sends a successful JSON-RPC response.
func (s *Server) sendJSONRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

// sendJSONRPCError sends a JSON-RPC error response.
func (s *Server) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC error response", "error", err)
	}
}
