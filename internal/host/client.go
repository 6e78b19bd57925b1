// Package host talks to the reply-producing agent host over HTTP.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dayuer/qqbridge/internal/bus"
	"github.com/dayuer/qqbridge/internal/config"
	"github.com/dayuer/qqbridge/internal/utils"
)

const defaultTimeout = 120 * time.Second

// Reply is one outbound payload produced by the host for a chat turn.
type Reply struct {
	Text  string   `json:"text"`
	Media []string `json:"media,omitempty"`
	Voice bool     `json:"voice,omitempty"`
}

// chatResponse is the host's answer to a chat call. Older hosts return a
// single message string instead of a replies list.
type chatResponse struct {
	Replies []Reply `json:"replies"`
	Message string  `json:"message,omitempty"`
}

// Client calls the host's chat endpoint with normalized inbound contexts
// and returns the replies to route back.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.SugaredLogger
}

// NewClient builds a host client from config. The timeout covers the whole
// chat round-trip; reply generation can take most of it.
func NewClient(cfg config.HostConfig, log *zap.SugaredLogger) *Client {
	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &Client{
		baseURL: cfg.APIURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Configured reports whether a host endpoint is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Chat posts one inbound context and returns the host's replies. Zero
// replies with a nil error means the host chose not to answer.
func (c *Client) Chat(ctx context.Context, msg bus.InboundMessage) ([]Reply, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat endpoint: HTTP %d: %s", resp.StatusCode, utils.TruncateString(string(respBody), 512, "..."))
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Replies) == 0 && out.Message != "" {
		return []Reply{{Text: out.Message}}, nil
	}
	return out.Replies, nil
}

// Ping probes the host's status endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status endpoint: HTTP %d", resp.StatusCode)
	}
	return nil
}
