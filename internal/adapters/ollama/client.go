// Package ollama talks to a local Ollama server: streamed chat completions
// and model management over its JSON and NDJSON HTTP API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/corey/parley/internal/ports"
)

const (
	// DefaultBaseURL is where a stock Ollama install listens.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultTimeout bounds non-streaming requests and the wait for the
	// first response header of a stream.
	DefaultTimeout = 30 * time.Second

	maxLine = 1024 * 1024
)

// Config holds options for the Ollama client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is an HTTP client for the Ollama API. It implements ports.Generator.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

var _ ports.Generator = (*Client)(nil)

// NewClient creates a client. Zero config fields take their defaults.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	// No overall client timeout: a streamed reply may legitimately run for
	// minutes. Only the wait for headers is bounded.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		httpClient: &http.Client{Transport: transport},
		logger:     logger,
	}
}

// BaseURL returns the server address the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// MODELS
// =============================================================================

type tagsResponse struct {
	Models []ports.Model `json:"models"`
}

// ListModels returns the models installed on the server (GET /api/tags).
func (c *Client) ListModels(ctx context.Context) ([]ports.Model, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Errorf("Failed to connect to Ollama: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("HTTP error: %s", resp.Status)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, errors.Errorf("Failed to parse response: %v", err)
	}
	if tags.Models == nil {
		tags.Models = []ports.Model{}
	}
	return tags.Models, nil
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

type chatRequest struct {
	Model    string              `json:"model"`
	Messages []ports.ChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type streamChunk struct {
	Message *struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
	Error      string `json:"error"`
}

// StreamChat implements ports.Generator (POST /api/chat with stream=true).
// Malformed lines are logged and skipped. A body that ends before the done
// line is reported as a stream error.
func (c *Client) StreamChat(ctx context.Context, model string, history []ports.ChatMessage, onChunk func(ports.ChunkEvent)) error {
	body, err := json.Marshal(chatRequest{Model: model, Messages: history, Stream: true})
	if err != nil {
		return errors.Wrap(err, "marshal chat request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.requestError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return errors.Errorf("Ollama returned HTTP %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk streamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			c.logger.Warn("skip malformed stream line", "err", err, "line", string(line))
			continue
		}
		if chunk.Error != "" {
			return errors.Errorf("Stream error: %s", chunk.Error)
		}

		ev := ports.ChunkEvent{Done: chunk.Done, DoneReason: chunk.DoneReason}
		if chunk.Message != nil {
			ev.Content = chunk.Message.Content
		}
		onChunk(ev)
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Errorf("Stream error: %v", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.New("Stream error: response ended before completion")
}

// requestError maps transport failures to user-facing messages.
func (c *Client) requestError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isConnectError(err) {
		return errors.Errorf("Could not connect to Ollama. Make sure Ollama is running on %s", c.baseURL)
	}
	if isTimeout(err) {
		return errors.New("Request to Ollama timed out")
	}
	return errors.Errorf("Network error: %v", err)
}

func isConnectError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
