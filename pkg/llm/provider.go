// Package llm talks to the chat and embedding backends behind this service.
// Both deployed backends, hosted OpenAI and a local Ollama, speak the OpenAI
// wire format, so there is a single HTTP client parameterized by base URL.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider streams one chat completion per call. Tool definitions are passed
// per request so the same provider can serve the tool-selection pass and the
// final tools-off answer pass.
type Provider interface {
	Complete(ctx context.Context, messages []Message, tools []Tool) (Stream, error)
}

type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Chunk is one streamed delta: text, tool call fragments, or both.
type Chunk struct {
	Content   string
	ToolCalls []ToolCall
}

type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCall fragments arrive across several chunks; the caller merges
// Arguments by ID.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Config carries the connection settings for a chat or embedding backend.
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	APIURL    string
	MaxTokens int
}

// NewProvider builds the chat provider named by cfg.Provider. The model is
// required up front; a misconfigured deployment should fail at startup, not
// on the first question.
func NewProvider(cfg Config) (Provider, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("llm model is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		return newChatClient(cfg, openAIBaseURL), nil
	case "ollama":
		return newChatClient(cfg, ollamaBaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q (want openai or ollama)", cfg.Provider)
	}
}
