package llm

import (
	"strings"
	"testing"
)

func TestNewProviderSelectsBackendDefaults(t *testing.T) {
	cases := []struct {
		provider string
		baseURL  string
	}{
		{"openai", openAIBaseURL},
		{"Ollama", ollamaBaseURL},
	}
	for _, tc := range cases {
		provider, err := NewProvider(Config{Provider: tc.provider, Model: "m"})
		if err != nil {
			t.Fatalf("%s: %v", tc.provider, err)
		}
		client, ok := provider.(*chatClient)
		if !ok || client.baseURL != tc.baseURL {
			t.Fatalf("%s: client = %+v", tc.provider, provider)
		}
	}
}

func TestNewProviderRequiresModel(t *testing.T) {
	if _, err := NewProvider(Config{Provider: "openai"}); err == nil {
		t.Fatal("expected missing model to be rejected")
	}
}

func TestNewProviderRejectsUnknownBackend(t *testing.T) {
	_, err := NewProvider(Config{Provider: "bedrock", Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "bedrock") {
		t.Fatalf("expected unsupported provider error, got %v", err)
	}
}
