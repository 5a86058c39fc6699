package config

import (
	"time"

	"github.com/PhupaSirirat/dbank-copilot/pkg/config"
)

// Config stores environment configuration shared by the tool server and the
// copilot service.
type Config struct {
	Port              string
	ToolServerPort    string
	DatabaseURL       string
	ToolServerURL     string
	ServiceToken      string
	LLMProvider       string
	LLMModel          string
	LLMAPIKey         string
	LLMAPIURL         string
	LLMMaxTokens      int
	EmbeddingProvider string
	EmbeddingModel    string
	EmbeddingAPIKey   string
	EmbeddingAPIURL   string
	MaxQueryRows      int
	KBSearchLimit     int
	MaxHistory        int
	ConversationTTL   time.Duration
	ToolTimeout       time.Duration
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() Config {
	return Config{
		Port:              config.GetEnv("PORT", "18080"),
		ToolServerPort:    config.GetEnv("TOOL_SERVER_PORT", "18081"),
		DatabaseURL:       config.RequireEnv("DATABASE_URL"),
		ToolServerURL:     config.GetEnv("TOOL_SERVER_URL", "http://localhost:18081"),
		ServiceToken:      config.GetEnv("SERVICE_TOKEN", ""),
		LLMProvider:       config.GetEnv("LLM_PROVIDER", ""),
		LLMModel:          config.GetEnv("LLM_MODEL", ""),
		LLMAPIKey:         config.GetEnv("LLM_API_KEY", ""),
		LLMAPIURL:         config.GetEnv("LLM_API_URL", ""),
		LLMMaxTokens:      config.GetEnvInt("LLM_MAX_TOKENS", 2000),
		EmbeddingProvider: config.GetEnv("EMBEDDING_PROVIDER", config.GetEnv("LLM_PROVIDER", "")),
		EmbeddingModel:    config.GetEnv("EMBEDDING_MODEL", config.GetEnv("LLM_MODEL", "")),
		EmbeddingAPIKey:   config.GetEnv("EMBEDDING_API_KEY", config.GetEnv("LLM_API_KEY", "")),
		EmbeddingAPIURL:   config.GetEnv("EMBEDDING_API_URL", config.GetEnv("LLM_API_URL", "")),
		MaxQueryRows:      config.GetEnvInt("MAX_QUERY_ROWS", 1000),
		KBSearchLimit:     config.GetEnvInt("KB_SEARCH_LIMIT", 5),
		MaxHistory:        config.GetEnvInt("MAX_HISTORY_MESSAGES", 20),
		ConversationTTL:   parseDuration(config.GetEnv("CONVERSATION_TTL", "24h"), 24*time.Hour),
		ToolTimeout:       parseDuration(config.GetEnv("TOOL_TIMEOUT", "60s"), 60*time.Second),
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
