package copilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PhupaSirirat/dbank-copilot/internal/registry"
	"github.com/PhupaSirirat/dbank-copilot/pkg/logging"
)

// ToolClient talks to the tool server over HTTP. Transport failures surface
// as errors; tool failures arrive as CallResponse with Success false.
type ToolClient struct {
	baseURL string
	client  *http.Client
	logger  logging.Logger
}

type ToolClientConfig struct {
	BaseURL      string
	ServiceToken string
	Timeout      time.Duration
	Logger       logging.Logger
}

// authTransport injects the service token on every request when one is
// configured.
type authTransport struct {
	token string
	base  http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}

func NewToolClient(cfg ToolClientConfig) *ToolClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ToolClient{
		baseURL: cfg.BaseURL,
		client: &http.Client{
			Timeout: timeout,
			Transport: &authTransport{
				token: cfg.ServiceToken,
				base:  http.DefaultTransport,
			},
		},
		logger: cfg.Logger,
	}
}

// Call executes one tool on the tool server.
func (c *ToolClient) Call(ctx context.Context, tool string, params map[string]any, userID, sessionID string) (*registry.CallResponse, error) {
	body, err := json.Marshal(registry.CallRequest{
		Tool:       tool,
		Parameters: params,
		UserID:     userID,
		SessionID:  sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tools/call", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build tool call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tool server returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var result registry.CallResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode tool call response: %w", err)
	}
	return &result, nil
}

// ListTools fetches the tool definitions the server can route.
func (c *ToolClient) ListTools(ctx context.Context) ([]registry.Definition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build list request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tool server returned %d", resp.StatusCode)
	}

	var body struct {
		Tools []registry.Definition `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode tool list: %w", err)
	}
	return body.Tools, nil
}

// Health reports whether the tool server answers its health endpoint.
func (c *ToolClient) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).Debug("Tool server health check failed")
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
