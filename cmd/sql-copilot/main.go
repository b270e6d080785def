package main

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/querydesk/sql-copilot/internal/agent"
	"github.com/querydesk/sql-copilot/internal/audit"
	"github.com/querydesk/sql-copilot/internal/auth"
	"github.com/querydesk/sql-copilot/internal/config"
	"github.com/querydesk/sql-copilot/internal/dataset"
	"github.com/querydesk/sql-copilot/internal/llm"
	"github.com/querydesk/sql-copilot/internal/observability"
	"github.com/querydesk/sql-copilot/internal/schema"
	"github.com/querydesk/sql-copilot/internal/semantic"
	"github.com/querydesk/sql-copilot/internal/server"
	"github.com/querydesk/sql-copilot/internal/session"
)

func main() {
	ctx := context.Background()
	logger := observability.NewLogger("main")

	// Load and validate configuration
	cfg := config.NewDefaultLoader().MustLoad(ctx)
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration: ", err)
	}
	if cfg.IsProduction() {
		if err := cfg.ValidateProduction(); err != nil {
			log.Fatal("Configuration not fit for production: ", err)
		}
	}
	gin.SetMode(cfg.Server.GinMode)

	// Load the schema descriptor and register the dataset
	desc, err := schema.Load(cfg.Dataset.DescriptorPath)
	if err != nil {
		log.Fatal("Failed to load schema descriptor: ", err)
	}

	store, err := dataset.NewStore()
	if err != nil {
		log.Fatal("Failed to open dataset store: ", err)
	}
	defer store.Close()

	if err := store.RegisterFromDescriptor(ctx, desc); err != nil {
		log.Fatal("Failed to register dataset: ", err)
	}
	logger.Info(ctx, "Dataset registered", map[string]interface{}{
		"tables": desc.TableNames(),
	})

	executor := dataset.NewExecutor(store, desc.Limits.TimeoutSeconds)

	// Model client behind a circuit breaker
	openaiClient, err := llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		log.Fatal("Failed to initialize LLM client: ", err)
	}
	openaiClient.WithBaseURL(cfg.LLM.BaseURL)
	llmClient := llm.NewCircuitBreakerClient(openaiClient, "openai", llm.DefaultCircuitBreakerConfig)

	// Agent loop
	generator := agent.NewLLMGenerator(llmClient, desc)
	controller := agent.NewController(desc, generator, executor, executor, cfg.Agent.MaxTurns)

	// Redis for sessions and the response cache
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Postgres-backed semantic and audit stores. Both are optional: the
	// agent works without them, so a connection failure only degrades the
	// service.
	pgConfig := semantic.PostgresConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
	}

	var semanticStore semantic.Store
	if ss, err := semantic.NewPostgresStore(pgConfig); err != nil {
		logger.Warn(ctx, "Semantic store unavailable, continuing without example retrieval", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		semanticStore = ss
		defer ss.Close()
	}

	var auditStore *audit.Store
	if as, err := audit.NewStore(audit.PostgresConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
	}); err != nil {
		logger.Warn(ctx, "Audit store unavailable, sessions will not be persisted", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		auditStore = as
		defer as.Close()
	}

	// Authentication
	sessionManager := session.NewManager(rdb, cfg.Auth.SessionExpiry)
	authManager := auth.NewAuthManager(auth.AuthConfig{
		JWTSecret:      cfg.Auth.JWTSecret,
		JWTExpiry:      cfg.Auth.JWTExpiry,
		SessionExpiry:  cfg.Auth.SessionExpiry,
		RateLimit:      cfg.Auth.RateLimit,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
	}, sessionManager)

	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			authManager.CleanupExpired()
		}
	}()

	budget := auth.NewCostBudgetManager()

	// Health checks
	healthChecker := observability.NewHealthChecker()
	healthChecker.Register("dataset", observability.DatasetHealthCheck(store.Ping))
	healthChecker.Register("redis", observability.RedisHealthCheck(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}))
	if semanticStore != nil {
		healthChecker.Register("database", observability.DatabaseHealthCheck(semanticStore.Ping))
	}
	healthChecker.Register("memory", observability.MemoryHealthCheck(func() (uint64, uint64) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return m.Alloc, m.Sys
	}))

	// Query service
	svc := server.NewService(desc, controller, llmClient, server.ServiceConfig{
		CacheTTL:       cfg.Query.CacheTTL,
		MaxQueryLength: cfg.Query.MaxQueryLength,
	}).WithCache(rdb).WithBudget(budget)
	if semanticStore != nil {
		svc.WithSemanticStore(semanticStore)
	}
	if auditStore != nil {
		svc.WithAuditStore(auditStore)
	}
	svc.SetHealthChecker(healthChecker)

	router := svc.SetupRoutes(authManager)

	authHandlers := auth.NewAuthHandlers(authManager)
	authHandlers.SetupRoutes(router.Group("/api/v1"))

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	logger.Info(ctx, "sql-copilot starting", map[string]interface{}{
		"port":      cfg.Server.Port,
		"max_turns": controller.MaxTurns(),
		"model":     cfg.LLM.Model,
	})
	if err := router.Run(addr); err != nil {
		logger.Error(ctx, "Server exited", err, nil)
		log.Fatal("Server exited: ", err)
	}
}
