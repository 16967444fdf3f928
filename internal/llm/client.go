// ABOUTME: HTTP client for OpenAI-compatible chat-completions endpoints
// ABOUTME: Sends one blocking request per turn and classifies upstream failures

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrMalformedResponse is returned when a 2xx response cannot be used.
var ErrMalformedResponse = errors.New("malformed model response")

// maxErrorBody caps how much of an error body is kept on APIError.
const maxErrorBody = 4 << 10

// APIError is returned when the model endpoint answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API error: %d", e.StatusCode)
	}
	return fmt.Sprintf("API error: %d: %s", e.StatusCode, e.Body)
}

// Client talks to a single chat-completions endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
}

// NewClient creates a client for baseURL, e.g. "https://openrouter.ai/api/v1".
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		headers: make(map[string]string),
	}
}

// SetBearerToken sets the Authorization header. An empty key is ignored.
func (c *Client) SetBearerToken(key string) {
	if key == "" {
		return
	}
	c.SetHeader("Authorization", "Bearer "+key)
}

// SetHeader sets a custom HTTP header for all requests made by this client.
func (c *Client) SetHeader(k, v string) {
	c.headers[k] = v
}

// ChatCompletion sends req to /chat/completions and returns the decoded response.
// Non-2xx statuses yield *APIError; unusable 2xx bodies wrap ErrMalformedResponse.
func (c *Client) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding body: %v", ErrMalformedResponse, err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	return &out, nil
}
