package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-signal-engine/config"
	"market-signal-engine/internal/ai/llm"
	"market-signal-engine/internal/ai/providers"
	"market-signal-engine/internal/ai/rotation"
	"market-signal-engine/internal/api"
	"market-signal-engine/internal/auth"
	"market-signal-engine/internal/cache"
	"market-signal-engine/internal/database"
	"market-signal-engine/internal/events"
	"market-signal-engine/internal/exchange"
	"market-signal-engine/internal/logging"
	"market-signal-engine/internal/metrics"
	"market-signal-engine/internal/notification"
	"market-signal-engine/internal/scanner"
	"market-signal-engine/internal/vault"

	"github.com/benbjohnson/clock"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	ctx := context.Background()
	scanConfig := scanner.ConfigFromSettings(cfg.ScannerConfig)

	// Store: PostgreSQL, or process memory when the database is unreachable
	var store database.Store
	var db *database.DB
	db, err = database.NewDB(cfg.DatabaseConfig)
	if err != nil {
		logger.WithError(err).Warn("Database unavailable, using in-memory store")
		store = database.NewMemoryStore(scanConfig.Exchanges...)
	} else {
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal("Failed to run migrations", "error", err)
		}
		store = database.NewRepository(db)
		logger.Info("Database connected")
	}

	// Shared price cache
	var redis *cache.CacheService
	if cfg.RedisConfig.Enabled {
		redis, err = cache.NewCacheService(cfg.RedisConfig)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, prices cached in process only")
		}
	}
	prices := cache.NewPriceCache(redis, time.Duration(cfg.ScannerConfig.PriceCacheTTL)*time.Second, clock.New())

	// Credentials: environment first, then Vault
	creds := providers.ChainResolver{providers.EnvResolver{}}
	var secrets api.HealthChecker
	if cfg.VaultConfig.Enabled {
		vaultClient, err := vault.NewClient(cfg.VaultConfig)
		if err != nil {
			logger.WithError(err).Warn("Vault unavailable, credentials from environment only")
		} else {
			creds = append(creds, vaultClient)
			secrets = vaultClient
			logger.Info("Vault credential store enabled", "address", cfg.VaultConfig.Address)
		}
	}

	eventBus := events.NewEventBus()
	recorder := metrics.New()

	// Provider registry and rotation
	registry := providers.NewRegistry(store, providers.SpecsFromConfig(cfg.AIConfig), creds,
		providers.WithObserver(providers.MultiObserver{recorder, events.NewProviderObserver(eventBus)}))
	if err := registry.Seed(ctx); err != nil {
		logger.Fatal("Failed to seed providers", "error", err)
	}

	llmClient := llm.NewClient(&llm.ClientConfig{
		Temperature: cfg.AIConfig.Temperature,
		Timeout:     time.Duration(cfg.AIConfig.RequestTimeout) * time.Second,
	})
	controller := rotation.NewController(registry, llmClient, rotation.Config{
		MaxAttempts:   cfg.AIConfig.MaxAttempts,
		MaxTokens:     cfg.AIConfig.MaxTokens,
		FastMaxTokens: cfg.AIConfig.FastMaxTokens,
	})

	// Signal alerts
	if cfg.NotifyConfig.Enabled {
		notifier := notification.NewManagerFromConfig(cfg.NotifyConfig)
		if notifier.Enabled() {
			notifier.Subscribe(eventBus)
			logger.Info("Signal alerts enabled", "min_confidence", cfg.NotifyConfig.MinConfidence)
		}
	}

	// Market scan driver
	marketScanner := scanner.NewScanner(store, registry, controller, exchange.DefaultRegistry(), scanConfig,
		scanner.WithEventBus(eventBus),
		scanner.WithMetrics(recorder),
		scanner.WithPriceCache(prices))

	// HTTP API
	server := api.NewServer(cfg.ServerConfig, api.Deps{
		Store:    store,
		Scanner:  marketScanner,
		Registry: registry,
		Invoker:  llmClient,
		Cache:    cacheHealth(redis),
		Vault:    secrets,
		EventBus: eventBus,
		Metrics:  recorder,
		Auth:     auth.NewService(cfg.AuthConfig),
	})

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start web server", "error", err)
		}
	}()

	if scanConfig.Enabled {
		marketScanner.Start()
		logger.Info("Scheduled scans enabled", "interval", scanConfig.Interval.String())
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error shutting down web server")
	}
	marketScanner.Stop()

	if redis != nil {
		if err := redis.Close(); err != nil {
			logger.WithError(err).Warn("Error closing redis")
		}
	}
	if db != nil {
		db.Close()
	}

	logger.Info("Shutdown complete")
}

// cacheHealth keeps a nil service out of the interface so health reports
// the cache as disabled
func cacheHealth(cs *cache.CacheService) api.CacheHealth {
	if cs == nil {
		return nil
	}
	return cs
}
