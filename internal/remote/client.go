// ABOUTME: Turns a remote MCP server into a tool module for the dispatch table.
// ABOUTME: Connects over Streamable HTTP with retry, lists tools and proxies calls.

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	mcpgo "github.com/metoro-io/mcp-golang"
	mcphttp "github.com/metoro-io/mcp-golang/transport/http"

	"github.com/xiaolintangyuan/tool-foundry/internal/tools"
)

// DefaultConnectTimeout bounds the whole connect phase, retries included.
const DefaultConnectTimeout = 10 * time.Second

// DefaultMaxTries is how many times initialize is attempted.
const DefaultMaxTries = 3

// emptyObjectSchema stands in for tools that publish no input schema.
var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// Session is the part of the MCP client a Source needs.
type Session interface {
	ListTools(ctx context.Context, cursor *string) (*mcpgo.ToolsResponse, error)
	CallTool(ctx context.Context, name string, arguments any) (*mcpgo.ToolResponse, error)
}

// Config describes one remote MCP server.
type Config struct {
	Name           string
	URL            string
	ConnectTimeout time.Duration
	MaxTries       uint
	Logger         *slog.Logger
}

// Source is a connected MCP server.
type Source struct {
	name    string
	session Session
	logger  *slog.Logger
}

// NewSource wraps an already-initialized session.
func NewSource(name string, session Session, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		name:    name,
		session: session,
		logger:  logger.With("component", "remote", "server", name),
	}
}

// Connect initializes an MCP client against cfg.URL, retrying with
// exponential backoff until MaxTries or ConnectTimeout is exhausted.
func Connect(ctx context.Context, cfg Config) (*Source, error) {
	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}
	tries := cfg.MaxTries
	if tries == 0 {
		tries = DefaultMaxTries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempt := 0
	operation := func() (*mcpgo.Client, error) {
		attempt++
		client := mcpgo.NewClient(mcphttp.NewHTTPClientTransport(cfg.URL))
		if _, err := client.Initialize(ctx); err != nil {
			logger.Debug("mcp initialize failed",
				"server", cfg.Name,
				"attempt", attempt,
				"error", err,
			)
			return nil, err
		}
		return client, nil
	}

	client, err := backoff.Retry(ctx, operation,
		backoff.WithMaxTries(tries),
		backoff.WithMaxElapsedTime(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to mcp server %q at %s: %v",
			tools.ErrDiscovery, cfg.Name, cfg.URL, err)
	}

	logger.Info("connected to mcp server", "server", cfg.Name, "url", cfg.URL, "attempts", attempt)
	return NewSource(cfg.Name, client, logger), nil
}

// Module connects to the server described by cfg and returns its tools.
func Module(ctx context.Context, cfg Config) (tools.Module, error) {
	src, err := Connect(ctx, cfg)
	if err != nil {
		return tools.Module{}, err
	}
	return src.Module(ctx)
}

// Module lists the server's tools, following pagination, and returns them
// as one module named after the server.
func (s *Source) Module(ctx context.Context) (tools.Module, error) {
	var descriptors []*tools.Descriptor
	var cursor *string
	requested := make(map[string]bool)

	for {
		resp, err := s.session.ListTools(ctx, cursor)
		if err != nil {
			return tools.Module{}, fmt.Errorf("%w: listing tools on mcp server %q: %v",
				tools.ErrDiscovery, s.name, err)
		}
		for _, t := range resp.Tools {
			d, err := s.descriptor(t)
			if err != nil {
				return tools.Module{}, err
			}
			descriptors = append(descriptors, d)
		}
		if resp.NextCursor == nil || *resp.NextCursor == "" {
			break
		}
		if requested[*resp.NextCursor] {
			s.logger.Warn("mcp server repeated a tools/list cursor, stopping pagination",
				"cursor", *resp.NextCursor,
				"tool_count", len(descriptors),
			)
			break
		}
		requested[*resp.NextCursor] = true
		cursor = resp.NextCursor
	}

	s.logger.Info("listed remote tools", "tool_count", len(descriptors))
	return tools.Module{Name: s.name, Export: descriptors}, nil
}

func (s *Source) descriptor(t mcpgo.ToolRetType) (*tools.Descriptor, error) {
	params := emptyObjectSchema
	if t.InputSchema != nil {
		raw, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("%w: tool %q on mcp server %q: encoding input schema: %v",
				tools.ErrDiscovery, t.Name, s.name, err)
		}
		params = raw
	}

	description := fmt.Sprintf("%s (via %s)", t.Name, s.name)
	if t.Description != nil && *t.Description != "" {
		description = *t.Description
	}

	name := t.Name
	return &tools.Descriptor{
		Name:        name,
		Description: description,
		Parameters:  params,
		Invoke: func(ctx context.Context, args json.RawMessage) (any, error) {
			resp, err := s.session.CallTool(ctx, name, args)
			if err != nil {
				return nil, fmt.Errorf("calling %s on %s: %w", name, s.name, err)
			}
			return decodeContent(resp)
		},
	}, nil
}

// ErrEmptyResult indicates the server answered a call with no content.
var ErrEmptyResult = errors.New("mcp tool returned no content")

// decodeContent joins the text parts of a call result. Text that parses as
// JSON is returned as-is; anything else is wrapped as {"text": ...}.
func decodeContent(resp *mcpgo.ToolResponse) (any, error) {
	if resp == nil || len(resp.Content) == 0 {
		return nil, ErrEmptyResult
	}

	var parts []string
	for _, c := range resp.Content {
		if c != nil && c.TextContent != nil {
			parts = append(parts, c.TextContent.Text)
		}
	}
	if len(parts) == 0 {
		return map[string]any{"content_items": len(resp.Content)}, nil
	}

	text := strings.Join(parts, "\n")
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}
	return map[string]string{"text": text}, nil
}
