package localmodel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/morezero/capability-bridge/pkg/commsutil"
)

const clientLogPrefix = "localmodel:client"

// ErrUnreachable wraps transport failures talking to the model host.
type ErrUnreachable struct {
	URL string
	Err error
}

func (e *ErrUnreachable) Error() string {
	return fmt.Sprintf("model host %s unreachable: %v", e.URL, e.Err)
}

func (e *ErrUnreachable) Unwrap() error { return e.Err }

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// hostClient speaks the Ollama-compatible HTTP API of the model host.
type hostClient struct {
	baseURL string
	http    *http.Client
}

// models lists the model names installed on the host.
func (c *hostClient) models(ctx context.Context) ([]string, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	names := gjson.GetBytes(body, "models.#.name").Array()
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, n.String())
	}
	return out, nil
}

// generate runs one non-streaming completion.
func (c *hostClient) generate(ctx context.Context, req generateRequest) (string, error) {
	payload, err := commsutil.JSON.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%s - failed to encode generate request: %w", clientLogPrefix, err)
	}
	body, err := c.do(ctx, http.MethodPost, "/api/generate", payload)
	if err != nil {
		return "", err
	}
	resp := gjson.GetBytes(body, "response")
	if !resp.Exists() {
		return "", fmt.Errorf("%s - generate response without text: %s", clientLogPrefix, truncate(body))
	}
	return resp.String(), nil
}

func (c *hostClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	url := strings.TrimRight(c.baseURL, "/") + path

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to build request: %w", clientLogPrefix, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ErrUnreachable{URL: c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read %s response: %w", clientLogPrefix, path, err)
	}
	if resp.StatusCode >= 300 {
		if msg := gjson.GetBytes(body, "error"); msg.Exists() {
			return nil, fmt.Errorf("%s - %s returned %d: %s", clientLogPrefix, path, resp.StatusCode, msg.String())
		}
		return nil, fmt.Errorf("%s - %s returned %d: %s", clientLogPrefix, path, resp.StatusCode, truncate(body))
	}
	return body, nil
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
