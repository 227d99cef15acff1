package toolkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentflow-run/agentflow/agferrors"
)

// httpTimeout is the fixed timeout for HTTP-backed tool wrappers.
const httpTimeout = 30 * time.Second

// HTTPTool is the builtin "http_request" class: it POSTs its arguments as
// a JSON body to a configured endpoint and decodes a JSON object response,
// raising ToolExecutionError on a non-2xx status. The endpoint is fixed at
// construction from the tool record's config rather than exposed as a
// caller-chosen argument, so the wire contract is a single JSON round-trip
// rather than a generic HTTP client handed to the model.
type HTTPTool struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTool builds the "http_request" builtin from its config, reading
// the endpoint URL out of cfg["endpoint"].
func NewHTTPTool(cfg map[string]any) (Tool, error) {
	endpoint, _ := cfg["endpoint"].(string)
	if endpoint == "" {
		return nil, fmt.Errorf("toolkit: http_request requires a non-empty \"endpoint\" in its config")
	}
	return &HTTPTool{endpoint: endpoint, client: &http.Client{Timeout: httpTimeout}}, nil
}

// Name implements Tool.
func (h *HTTPTool) Name() string { return "http_request" }

// Call implements Tool.
func (h *HTTPTool) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	body, err := json.Marshal(args)
	if err != nil {
		return nil, &agferrors.ToolExecutionError{ToolName: h.Name(), Cause: fmt.Errorf("encoding arguments: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &agferrors.ToolExecutionError{ToolName: h.Name(), Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &agferrors.ToolExecutionError{ToolName: h.Name(), Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &agferrors.ToolExecutionError{ToolName: h.Name(), Cause: fmt.Errorf("reading response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &agferrors.ToolExecutionError{
			ToolName: h.Name(),
			Cause:    fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	if len(respBody) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &agferrors.ToolExecutionError{ToolName: h.Name(), Cause: fmt.Errorf("decoding response: %w", err)}
	}
	return out, nil
}
