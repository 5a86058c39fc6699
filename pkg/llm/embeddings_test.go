package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEmbedBatchUsesDefaultModel(t *testing.T) {
	type request struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}
	requests := make(chan request, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		requests <- req
		io.WriteString(w, `{"data":[{"embedding":[0.1,0.2]},{"embedding":[0.3,0.4]}]}`)
	}))
	defer server.Close()

	client, err := NewEmbeddingClient(Config{Provider: "openai", APIURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	vectors, err := client.Embed(context.Background(), []string{"app crash", "otp delay"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vectors) != 2 || vectors[1][0] != 0.3 {
		t.Fatalf("vectors = %v", vectors)
	}

	sent := <-requests
	if sent.Model != DefaultEmbeddingModel {
		t.Fatalf("model = %q", sent.Model)
	}
	if len(sent.Input) != 2 {
		t.Fatalf("input = %v", sent.Input)
	}
}

func TestEmbedBatchRejectsVectorCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[{"embedding":[0.1]}]}`)
	}))
	defer server.Close()

	client, err := NewEmbeddingClient(Config{APIURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Embed(context.Background(), []string{"a", "b"}); err == nil || !strings.Contains(err.Error(), "1 vectors for 2 inputs") {
		t.Fatalf("expected count mismatch error, got %v", err)
	}
}

func TestEmbedOllamaSendsOnePromptPerRequest(t *testing.T) {
	prompts := make(chan string, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		prompts <- req.Prompt
		io.WriteString(w, `{"embedding":[0.5]}`)
	}))
	defer server.Close()

	client, err := NewEmbeddingClient(Config{
		Provider: "ollama",
		Model:    "nomic-embed-text",
		APIURL:   server.URL + "/v1",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	vectors, err := client.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("vectors = %v", vectors)
	}
	if first, second := <-prompts, <-prompts; first != "first" || second != "second" {
		t.Fatalf("prompts = %q, %q", first, second)
	}
}

func TestEmbedValidation(t *testing.T) {
	if _, err := NewEmbeddingClient(Config{Provider: "anthropic"}); err == nil {
		t.Fatal("expected unsupported provider to be rejected")
	}

	client, err := NewEmbeddingClient(Config{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Embed(context.Background(), nil); err == nil {
		t.Fatal("expected empty inputs to be rejected")
	}
}
