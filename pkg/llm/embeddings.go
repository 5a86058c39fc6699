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

// DefaultEmbeddingModel is the model the knowledge base was embedded with.
// Query vectors must come from the same model to be comparable, so it is the
// default when no embedding model is configured.
const DefaultEmbeddingModel = "text-embedding-3-small"

type EmbeddingClient interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type embeddingClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	ollama  bool
}

func NewEmbeddingClient(cfg Config) (EmbeddingClient, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "openai", "ollama":
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q (want openai or ollama)", cfg.Provider)
	}
	ollama := provider == "ollama"

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if baseURL == "" {
		if ollama {
			baseURL = ollamaBaseURL
		} else {
			baseURL = openAIBaseURL
		}
	}
	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &embeddingClient{
		client:  &http.Client{Timeout: 120 * time.Second},
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   model,
		ollama:  ollama,
	}, nil
}

func (c *embeddingClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, errors.New("embed: no inputs")
	}
	if c.ollama {
		return c.embedSequential(ctx, inputs)
	}
	return c.embedBatch(ctx, inputs)
}

func (c *embeddingClient) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	body, err := c.post(ctx, c.baseURL+"/embeddings", map[string]any{
		"model": c.model,
		"input": inputs,
	})
	if err != nil {
		return nil, err
	}
	var decoded struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}
	if len(decoded.Data) != len(inputs) {
		return nil, fmt.Errorf("embed: got %d vectors for %d inputs", len(decoded.Data), len(inputs))
	}
	vectors := make([][]float32, len(decoded.Data))
	for i, entry := range decoded.Data {
		vectors[i] = entry.Embedding
	}
	return vectors, nil
}

// embedSequential covers Ollama, whose embedding endpoint lives outside the
// OpenAI-compatible /v1 prefix and takes one prompt per request.
func (c *embeddingClient) embedSequential(ctx context.Context, inputs []string) ([][]float32, error) {
	endpoint := strings.TrimSuffix(c.baseURL, "/v1") + "/api/embeddings"
	vectors := make([][]float32, 0, len(inputs))
	for _, input := range inputs {
		body, err := c.post(ctx, endpoint, map[string]any{
			"model":  c.model,
			"prompt": input,
		})
		if err != nil {
			return nil, err
		}
		var decoded struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, fmt.Errorf("embed: decode response: %w", err)
		}
		vectors = append(vectors, decoded.Embedding)
	}
	return vectors, nil
}

func (c *embeddingClient) post(ctx context.Context, endpoint string, request any) ([]byte, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}
	resp, err := doWithRetry(ctx, c.client, func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if reqErr != nil {
			return nil, fmt.Errorf("embed: build request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embed: status %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}
	return io.ReadAll(resp.Body)
}
