package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/corey/parley/internal/ports"
)

// =============================================================================
// MODEL MANAGEMENT
// =============================================================================

type psResponse struct {
	Models []ports.RunningModel `json:"models"`
}

// RunningModels returns the models loaded in memory (GET /api/ps).
func (c *Client) RunningModels(ctx context.Context) ([]ports.RunningModel, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	op := operation{action: "fetching running models"}
	var ps psResponse
	if err := c.roundTrip(ctx, http.MethodGet, "/api/ps", nil, op, &ps); err != nil {
		return nil, err
	}
	if ps.Models == nil {
		ps.Models = []ports.RunningModel{}
	}
	return ps.Models, nil
}

// ShowModel returns the details of one model (POST /api/show).
func (c *Client) ShowModel(ctx context.Context, model string) (*ports.ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	op := operation{
		action:   fmt.Sprintf("fetching details for model '%s'", model),
		notFound: fmt.Sprintf("Model '%s' not found", model),
	}
	var info ports.ModelInfo
	if err := c.roundTrip(ctx, http.MethodPost, "/api/show", ports.ModelArgs{Model: model}, op, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CopyModel duplicates source under destination (POST /api/copy).
func (c *Client) CopyModel(ctx context.Context, source, destination string) (*ports.ModelStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	op := operation{
		action:   fmt.Sprintf("copying model '%s' to '%s'", source, destination),
		notFound: fmt.Sprintf("Source model '%s' not found", source),
	}
	body := ports.CopyModelArgs{Source: source, Destination: destination}
	if err := c.roundTrip(ctx, http.MethodPost, "/api/copy", body, op, nil); err != nil {
		return nil, err
	}
	return &ports.ModelStatus{Status: "success"}, nil
}

// DeleteModel removes a model from local storage (DELETE /api/delete).
func (c *Client) DeleteModel(ctx context.Context, model string) (*ports.ModelStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	op := operation{
		action:   fmt.Sprintf("deleting model '%s'", model),
		notFound: fmt.Sprintf("Model '%s' not found and cannot be deleted", model),
	}
	if err := c.roundTrip(ctx, http.MethodDelete, "/api/delete", ports.ModelArgs{Model: model}, op, nil); err != nil {
		return nil, err
	}
	return &ports.ModelStatus{Status: "success"}, nil
}

type progressRequest struct {
	Model  string `json:"model"`
	From   string `json:"from,omitempty"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

// CreateModel derives a model from args.From (POST /api/create).
func (c *Client) CreateModel(ctx context.Context, args ports.CreateModelArgs) (*ports.ModelStatus, error) {
	op := operation{
		action:   fmt.Sprintf("creating model '%s' from '%s'", args.Model, args.From),
		notFound: fmt.Sprintf("Base model '%s' not found", args.From),
	}
	body := progressRequest{Model: args.Model, From: args.From, System: args.System, Stream: true}
	return c.progress(ctx, "/api/create", body, op)
}

// PullModel downloads a model from the registry (POST /api/pull).
func (c *Client) PullModel(ctx context.Context, model string) (*ports.ModelStatus, error) {
	op := operation{
		action:   fmt.Sprintf("pulling model '%s'", model),
		notFound: fmt.Sprintf("Model '%s' not found in the Ollama registry", model),
	}
	return c.progress(ctx, "/api/pull", progressRequest{Model: model, Stream: true}, op)
}

// PushModel uploads a model to the registry (POST /api/push).
func (c *Client) PushModel(ctx context.Context, model string) (*ports.ModelStatus, error) {
	op := operation{
		action:   fmt.Sprintf("pushing model '%s'", model),
		notFound: fmt.Sprintf("Model '%s' not found locally", model),
		auth:     true,
	}
	return c.progress(ctx, "/api/push", progressRequest{Model: model, Stream: true}, op)
}

// operation names a request in user-facing errors.
type operation struct {
	action   string
	notFound string // message for HTTP 404; empty falls through to the generic one
	auth     bool   // 401 and 403 mean the registry rejected the credentials
}

// roundTrip sends body as JSON and decodes a successful response into out
// when out is non-nil.
func (c *Client) roundTrip(ctx context.Context, method, path string, body any, op operation, out any) error {
	resp, err := c.send(ctx, method, path, body, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Errorf("Failed to parse the response from Ollama while %s: %v", op.action, err)
	}
	return nil
}

type progressLine struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// progress runs a long operation as a stream of status lines and returns
// the last status. There is no overall timeout; only ctx bounds it.
func (c *Client) progress(ctx context.Context, path string, body progressRequest, op operation) (*ports.ModelStatus, error) {
	resp, err := c.send(ctx, http.MethodPost, path, body, op)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var last string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var p progressLine
		if err := json.Unmarshal(line, &p); err != nil {
			c.logger.Warn("skip malformed progress line", "path", path, "err", err)
			continue
		}
		if p.Error != "" {
			return nil, errors.Errorf("Ollama reported an error while %s: %s", op.action, p.Error)
		}
		if p.Status != "" {
			last = p.Status
			c.logger.Debug("model progress", "path", path, "model", body.Model, "status", p.Status)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Errorf("Network error while %s: %v", op.action, err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if last != "success" {
		return nil, errors.Errorf("Ollama stopped responding while %s (last status %q)", op.action, last)
	}
	return &ports.ModelStatus{Status: last}, nil
}

// send issues the request and maps transport failures and non-2xx
// statuses to user-facing errors. The caller closes the body on success.
func (c *Client) send(ctx context.Context, method, path string, body any, op operation) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request")
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(err, op.action)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, statusError(resp, op)
	}
	return resp, nil
}

func (c *Client) transportError(err error, action string) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case isConnectError(err):
		return errors.Errorf("Could not connect to Ollama. Make sure Ollama is running on %s", c.baseURL)
	case isTimeout(err):
		return errors.Errorf("Request to Ollama timed out while %s", action)
	}
	return errors.Errorf("Network error while %s: %v", action, err)
}

func statusError(resp *http.Response, op operation) error {
	msg := ollamaMessage(resp.Body)
	switch code := resp.StatusCode; {
	case code == http.StatusNotFound && op.notFound != "":
		return errors.New(op.notFound)
	case (code == http.StatusUnauthorized || code == http.StatusForbidden) && op.auth:
		return errors.Errorf("Authentication failed while %s. Make sure you are logged in to the Ollama registry: %s", op.action, msg)
	case code == http.StatusBadRequest:
		return errors.Errorf("Invalid request while %s: %s", op.action, msg)
	case code == http.StatusInternalServerError:
		return errors.Errorf("Ollama encountered an internal error while %s: %s", op.action, msg)
	}
	return errors.Errorf("Unexpected error %s (HTTP %s): %s", op.action, resp.Status, msg)
}

// ollamaMessage extracts the "error" field of a JSON error body, falling
// back to the raw text.
func ollamaMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 64*1024))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
