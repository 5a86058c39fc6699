package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func sseBody(events ...string) string {
	var b strings.Builder
	for _, event := range events {
		b.WriteString("data: " + event + "\n\n")
	}
	return b.String()
}

func TestCompleteStreamsTextAndToolCalls(t *testing.T) {
	requests := make(chan completionRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header = %q", got)
		}
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		requests <- req

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseBody(
			`{"choices":[{"delta":{"content":"Hello"}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"id":"call_1","function":{"name":"sql_query","arguments":"{}"}}]}}]}`,
			"[DONE]",
		))
	}))
	defer server.Close()

	provider, err := NewProvider(Config{
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		APIKey:    "sk-test",
		APIURL:    server.URL,
		MaxTokens: 2000,
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	tools := []Tool{{Name: "sql_query", Parameters: map[string]interface{}{"type": "object"}}}
	stream, err := provider.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, tools)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	defer stream.Close()

	first, err := stream.Recv()
	if err != nil || first.Content != "Hello" {
		t.Fatalf("first chunk = %+v, %v", first, err)
	}
	second, err := stream.Recv()
	if err != nil || len(second.ToolCalls) != 1 || second.ToolCalls[0].Name != "sql_query" {
		t.Fatalf("second chunk = %+v, %v", second, err)
	}
	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}

	sent := <-requests
	if sent.Model != "gpt-4o-mini" || !sent.Stream || sent.MaxTokens != 2000 {
		t.Fatalf("request = %+v", sent)
	}
	if len(sent.Tools) != 1 || sent.Tools[0].Type != "function" || sent.Tools[0].Function.Name != "sql_query" {
		t.Fatalf("tools = %+v", sent.Tools)
	}
}

func TestCompleteSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid model"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	provider, err := NewProvider(Config{Provider: "openai", Model: "bogus", APIURL: server.URL})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := provider.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil); err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected 400 error, got %v", err)
	}
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	restore := retryBaseDelay
	retryBaseDelay = time.Millisecond
	defer func() { retryBaseDelay = restore }()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, sseBody(`{"choices":[{"delta":{"content":"ok"}}]}`, "[DONE]"))
	}))
	defer server.Close()

	provider, err := NewProvider(Config{Provider: "ollama", Model: "llama3", APIURL: server.URL})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	stream, err := provider.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	defer stream.Close()

	chunk, err := stream.Recv()
	if err != nil || chunk.Content != "ok" {
		t.Fatalf("chunk = %+v, %v", chunk, err)
	}
	if got := attempts.Load(); got != 2 {
		t.Fatalf("attempts = %d", got)
	}
}
