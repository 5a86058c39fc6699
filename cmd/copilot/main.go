package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appconfig "github.com/PhupaSirirat/dbank-copilot/internal/config"
	"github.com/PhupaSirirat/dbank-copilot/internal/copilot"
	"github.com/PhupaSirirat/dbank-copilot/pkg/config"
	"github.com/PhupaSirirat/dbank-copilot/pkg/llm"
	"github.com/PhupaSirirat/dbank-copilot/pkg/logging"
	"github.com/PhupaSirirat/dbank-copilot/pkg/monitoring"
	"github.com/PhupaSirirat/dbank-copilot/pkg/server"
	"github.com/PhupaSirirat/dbank-copilot/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("copilot")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting dBank support copilot")

	cfg := appconfig.LoadConfig()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("copilot", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("copilot", version.Version, version.GitCommit)

	healthChecker.AddCheck("tool_server", monitoring.HTTPServiceHealthCheck("toolserver", cfg.ToolServerURL+"/health"))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"TOOL_SERVER_URL": cfg.ToolServerURL,
		"LLM_PROVIDER":    cfg.LLMProvider,
	}))

	provider, err := llm.NewProvider(llm.Config{
		Provider:  cfg.LLMProvider,
		Model:     cfg.LLMModel,
		APIKey:    cfg.LLMAPIKey,
		APIURL:    cfg.LLMAPIURL,
		MaxTokens: cfg.LLMMaxTokens,
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize LLM provider - answers disabled")
		provider = nil
	}

	toolClient := copilot.NewToolClient(copilot.ToolClientConfig{
		BaseURL:      cfg.ToolServerURL,
		ServiceToken: cfg.ServiceToken,
		Timeout:      cfg.ToolTimeout,
		Logger:       logger,
	})
	orchestrator := copilot.NewOrchestrator(toolClient, logger)
	conversations := copilot.NewManager(cfg.MaxHistory, cfg.ConversationTTL, logger)
	copilot.RegisterConversationGauge(conversations)
	assembler := copilot.NewAssembler(provider, orchestrator, conversations, logger)

	handler := copilot.NewHandler(copilot.HandlerConfig{
		Assembler:     assembler,
		Conversations: conversations,
		Tools:         toolClient,
		Provider:      provider,
		Logger:        logger,
	})

	// Drop expired conversations in the background
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			conversations.CleanupExpired()
		}
	}()

	router := server.SetupServiceRouter(logger, "copilot", healthChecker, metricsCollector)
	handler.RegisterRoutes(router)

	// Per-dependency health for dashboards
	router.GET("/status", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		c.JSON(http.StatusOK, handler.Health(ctx))
	})

	serverConfig := server.DefaultConfig("copilot", cfg.Port)
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
