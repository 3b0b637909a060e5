// Package transport implements the HTTP and WebSocket channels between the
// session engine and the assistant backend.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrStatus indicates the backend answered with a non-success HTTP status.
	ErrStatus = errors.New("server returned error status")
)

// TurnRequest is the payload of a single chat turn.
type TurnRequest struct {
	UserID         string          `json:"user_id"`
	ThreadID       string          `json:"thread_id"`
	UserProfile    json.RawMessage `json:"user_profile,omitempty"`
	UserResponse   string          `json:"user_response"`
	UserIntentHint string          `json:"user_intent_hint,omitempty"`
}

// ClientConfig holds configuration for the backend HTTP client.
type ClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:        "http://localhost:8000",
		RequestTimeout: 60 * time.Second,
	}
}

// Client calls the assistant backend over HTTP. One turn is one POST; the
// engine performs no retries.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewClient creates a backend client. Zero-valued config fields fall back
// to the defaults.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultClientConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpc:   &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logger,
	}
}

// Turn sends one user turn and returns the raw reply body. A non-2xx status
// wraps ErrStatus and carries the response text for the error bubble.
func (c *Client) Turn(ctx context.Context, req TurnRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode turn request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build turn request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("turn call: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close turn response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("read turn response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return json.RawMessage(data), nil
}

// maxResponseBodySize caps reply bodies at 4MB.
const maxResponseBodySize = 4 << 20
