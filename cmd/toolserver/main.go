package main

import (
	appconfig "github.com/PhupaSirirat/dbank-copilot/internal/config"
	"github.com/PhupaSirirat/dbank-copilot/internal/knowledge"
	"github.com/PhupaSirirat/dbank-copilot/internal/kpi"
	"github.com/PhupaSirirat/dbank-copilot/internal/registry"
	"github.com/PhupaSirirat/dbank-copilot/internal/warehouse"
	"github.com/PhupaSirirat/dbank-copilot/pkg/config"
	"github.com/PhupaSirirat/dbank-copilot/pkg/database"
	"github.com/PhupaSirirat/dbank-copilot/pkg/llm"
	"github.com/PhupaSirirat/dbank-copilot/pkg/logging"
	"github.com/PhupaSirirat/dbank-copilot/pkg/monitoring"
	"github.com/PhupaSirirat/dbank-copilot/pkg/server"
	"github.com/PhupaSirirat/dbank-copilot/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("toolserver")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting dBank tool server")

	cfg := appconfig.LoadConfig()

	// Connect to the analytics database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = cfg.DatabaseURL
	db := database.MustConnect(dbConfig, logger)
	defer func() { _ = db.Close() }()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("toolserver", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("toolserver", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": cfg.DatabaseURL,
	}))

	embeddingClient, err := llm.NewEmbeddingClient(llm.Config{
		Provider: cfg.EmbeddingProvider,
		Model:    cfg.EmbeddingModel,
		APIKey:   cfg.EmbeddingAPIKey,
		APIURL:   cfg.EmbeddingAPIURL,
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize embedding client - knowledge base search disabled")
	}

	executor := warehouse.NewExecutor(warehouse.Config{
		DB:      db,
		Logger:  logger,
		MaxRows: cfg.MaxQueryRows,
	})
	kbStore := knowledge.NewStore(db)
	searcher := knowledge.NewSearcher(kbStore, embeddingClient, logger)
	kpiService := kpi.NewService(db, logger)
	audit := registry.NewAuditLog(db, logger)

	dispatcher := registry.NewDispatcher(registry.DispatcherConfig{
		Executor: executor,
		Searcher: searcher,
		KPI:      kpiService,
		Audit:    audit,
		Logger:   logger,
	})

	router := server.SetupServiceRouter(logger, "toolserver", healthChecker, metricsCollector)
	registry.NewHandler(registry.HandlerConfig{
		Dispatcher: dispatcher,
		Executor:   executor,
		KBStore:    kbStore,
		KPI:        kpiService,
		Audit:      audit,
		Logger:     logger,
	}).RegisterRoutes(router)

	serverConfig := server.DefaultConfig("toolserver", cfg.ToolServerPort)
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
