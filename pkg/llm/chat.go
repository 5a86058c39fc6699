package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	openAIBaseURL = "https://api.openai.com/v1"
	ollamaBaseURL = "http://localhost:11434/v1"
)

// chatClient streams chat completions from an OpenAI-compatible endpoint.
type chatClient struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
}

func newChatClient(cfg Config, defaultBaseURL string) *chatClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &chatClient{
		client:    &http.Client{Timeout: 60 * time.Second},
		baseURL:   baseURL,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

func (c *chatClient) Complete(ctx context.Context, messages []Message, tools []Tool) (Stream, error) {
	payload, err := json.Marshal(c.completionRequest(messages, tools))
	if err != nil {
		return nil, fmt.Errorf("chat: marshal request: %w", err)
	}

	resp, err := doWithRetry(ctx, c.client, func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if reqErr != nil {
			return nil, fmt.Errorf("chat: build request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("chat: status %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}
	return newEventStream(resp, decodeCompletionChunk), nil
}

type completionRequest struct {
	Model     string     `json:"model"`
	Messages  []Message  `json:"messages"`
	MaxTokens int        `json:"max_tokens,omitempty"`
	Stream    bool       `json:"stream"`
	Tools     []toolSpec `json:"tools,omitempty"`
}

// toolSpec is the function-calling envelope; Tool already carries the right
// JSON shape for the inner object.
type toolSpec struct {
	Type     string `json:"type"`
	Function Tool   `json:"function"`
}

func (c *chatClient) completionRequest(messages []Message, tools []Tool) completionRequest {
	req := completionRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: c.maxTokens,
		Stream:    true,
	}
	for _, tool := range tools {
		req.Tools = append(req.Tools, toolSpec{Type: "function", Function: tool})
	}
	return req
}

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
	} `json:"choices"`
}

func decodeCompletionChunk(data []byte) (Chunk, error) {
	var payload completionChunk
	if err := json.Unmarshal(data, &payload); err != nil {
		return Chunk{}, fmt.Errorf("chat: decode chunk: %w", err)
	}
	if len(payload.Choices) == 0 {
		return Chunk{}, nil
	}
	delta := payload.Choices[0].Delta
	chunk := Chunk{Content: delta.Content}
	for _, call := range delta.ToolCalls {
		chunk.ToolCalls = append(chunk.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return chunk, nil
}
