// Harrier - Transaction ingestion and risk scoring for AML review.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/harrier/internal/alerting"
	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ingest"
	"github.com/opensource-finance/harrier/internal/store"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Local overrides from .env, if present
	_ = godotenv.Load()

	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()
	if os.Getenv("HARRIER_MODE") == "distributed" {
		cfg = domain.DistributedConfig()
		slog.Info("running in distributed mode")
	}
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Store
	st, err := store.New(cfg.Store)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("store initialized", "driver", cfg.Store.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize custom rule set and load persisted rules
	rules, err := detect.NewRuleSet()
	if err != nil {
		slog.Error("failed to initialize rule set", "error", err)
		os.Exit(1)
	}
	if err := loadRulesFromStore(ctx, st, rules); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule set initialized", "rules_count", rules.Count())

	// Wire the scoring pipeline
	engine := detect.NewEngine(cfg.Detectors, rules)
	history := detect.NewHistoryService(st, cacheImpl, cfg.Detectors.HistoryWindow, cfg.Cache.LocalTTL)
	generator := alerting.NewGenerator(st, busImpl, cfg.Detectors.Severity)
	lifecycle := alerting.NewLifecycle(st)
	orchestrator := ingest.NewOrchestrator(cfg, st, history, engine, generator, busImpl)
	slog.Info("pipeline initialized",
		"file_workers", cfg.Ingest.FileWorkers,
		"max_file_bytes", cfg.Ingest.MaxFileBytes,
	)

	// Initialize Server
	srv := api.NewServer(cfg, st, cacheImpl, busImpl, orchestrator, lifecycle, rules, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

// applyEnvOverrides layers HARRIER_* environment variables over the
// base configuration.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("HARRIER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("HARRIER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HARRIER_DB_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("HARRIER_SQLITE_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("HARRIER_PG_HOST"); v != "" {
		cfg.Store.PostgresHost = v
	}
	if v := os.Getenv("HARRIER_PG_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Store.PostgresPort = port
		}
	}
	if v := os.Getenv("HARRIER_PG_USER"); v != "" {
		cfg.Store.PostgresUser = v
	}
	if v := os.Getenv("HARRIER_PG_PASSWORD"); v != "" {
		cfg.Store.PostgresPassword = v
	}
	if v := os.Getenv("HARRIER_PG_DB"); v != "" {
		cfg.Store.PostgresDB = v
	}
	if v := os.Getenv("HARRIER_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("HARRIER_REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}
	if v := os.Getenv("HARRIER_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("HARRIER_NATS_TOKEN"); v != "" {
		cfg.EventBus.NATSToken = v
	}
	if v := os.Getenv("HARRIER_MAX_FILE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Ingest.MaxFileBytes = n
		}
	}
	if v := os.Getenv("HARRIER_FILE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.FileWorkers = n
		}
	}
	if v := os.Getenv("HARRIER_LARGE_AMOUNT_CEILING"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detectors.LargeAmountCeiling = f
		}
	}
}

// loadRulesFromStore loads persisted custom rules into the rule set.
// Rules are configured via POST /rules - there are no hardcoded
// defaults.
func loadRulesFromStore(ctx context.Context, st domain.Store, rules *detect.RuleSet) error {
	configs, err := st.ListRuleConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list rules from store", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(configs) > 0 {
		slog.Info("loading rules from store", "count", len(configs))
		return rules.Reload(configs)
	}

	slog.Info("no rules in store - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 HARRIER                  ║")
	fmt.Println("  ║   Transaction Ingestion & Risk Scoring    ║")
	fmt.Println("  ║      Every file. Every transaction.       ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /uploads                 - Ingest transaction files")
	fmt.Println("    GET    /uploads/{id}            - Upload job status")
	fmt.Println("    DELETE /uploads/{id}            - Cancel a running job")
	fmt.Println("    GET    /transactions/{id}       - Get scored transaction")
	fmt.Println("    GET    /transactions/export     - Export all as CSV")
	fmt.Println("    DELETE /transactions            - Delete all transactions")
	fmt.Println("    GET    /alerts                  - List alerts")
	fmt.Println("    GET    /alerts/summary          - Alert counts")
	fmt.Println("    POST   /alerts/{id}/transition  - Move alert lifecycle")
	fmt.Println("    GET    /rules                   - List custom rules")
	fmt.Println("    POST   /rules                   - Create custom rule")
	fmt.Println("    POST   /rules/reload            - Reload rules from store")
	fmt.Println("    GET    /health                  - Health check")
	fmt.Println()
}
