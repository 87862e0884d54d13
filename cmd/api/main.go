package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kr1s57/ipreputation/internal/adapter/controller/http/handlers"
	"github.com/kr1s57/ipreputation/internal/adapter/controller/http/router"
	"github.com/kr1s57/ipreputation/internal/adapter/controller/ws"
	"github.com/kr1s57/ipreputation/internal/adapter/external/threatintel"
	"github.com/kr1s57/ipreputation/internal/adapter/repository/clickhouse"
	"github.com/kr1s57/ipreputation/internal/adapter/repository/memory"
	"github.com/kr1s57/ipreputation/internal/adapter/repository/redis"
	"github.com/kr1s57/ipreputation/internal/config"
	"github.com/kr1s57/ipreputation/internal/usecase/keys"
	"github.com/kr1s57/ipreputation/internal/usecase/ratelimit"
	"github.com/kr1s57/ipreputation/internal/usecase/reports"
	"github.com/kr1s57/ipreputation/internal/usecase/scanner"
)

// stores is the persistence backend for usage, history and keys
type stores interface {
	ratelimit.UsageStore
	scanner.HistoryStore
	keys.KeyRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("Starting IP reputation API",
		"version", config.Version,
		"env", cfg.App.Env,
		"port", cfg.App.Port,
		"storage", cfg.Storage.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := make(map[string]handlers.Pinger)

	// Persistence
	var store stores = memory.NewStore()
	if cfg.UsesRedis() {
		redisStore, err := redis.NewStore(ctx, &cfg.Redis)
		if err != nil {
			logger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		store = redisStore
		health["redis"] = redisStore.Ping
		logger.Info("Connected to Redis", "host", cfg.Redis.Host, "port", cfg.Redis.Port)
	}

	// Optional ClickHouse archive of finished scans
	var archive *clickhouse.ScanArchiveRepository
	var archiver scanner.Archiver
	if cfg.ClickHouse.Enabled {
		conn, err := clickhouse.NewConnection(&cfg.ClickHouse, logger)
		if err != nil {
			logger.Error("Failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}
		defer conn.Close()

		archive = clickhouse.NewScanArchiveRepository(conn)
		if err := archive.EnsureSchema(ctx); err != nil {
			logger.Error("Failed to prepare scan archive", "error", err)
			os.Exit(1)
		}
		archiver = archive
		health["clickhouse"] = conn.Ping
	}

	// Keys
	keyService, err := keys.NewService(ctx, store, logger)
	if err != nil {
		logger.Error("Failed to load API keys", "error", err)
		os.Exit(1)
	}
	if err := keyService.Seed(ctx, cfg.SeedKeys); err != nil {
		logger.Warn("[KEYS] Failed to seed keys from environment", "error", err)
	}

	// Scan engine
	limiter := ratelimit.NewLimiter(cfg.RateLimits, store, ratelimit.WithLogger(logger))
	registry := threatintel.NewDefaultRegistry(threatintel.MockConfig{Latency: cfg.Scan.MockLatency})

	coordinator := scanner.NewCoordinator(registry, limiter, scanner.CoordinatorConfig{
		Smart: scanner.SmartScanPolicy{
			Primary:   cfg.Scan.SmartPrimary,
			Threshold: cfg.Scan.SmartThreshold,
		},
		Logger: logger,
	})

	rescan, err := scanner.ParseRescanPolicy(cfg.Scan.RescanPolicy)
	if err != nil {
		logger.Error("Invalid rescan policy", "error", err)
		os.Exit(1)
	}

	bus := scanner.NewBus(logger)
	history := scanner.NewHistory(ctx, store, logger)
	runner := scanner.NewBatchRunner(coordinator, history, bus, scanner.BatchRunnerConfig{
		DefaultMode:   cfg.Scan.DefaultMode,
		Rescan:        rescan,
		DispatchRate:  cfg.Scan.DispatchRate,
		DispatchBurst: cfg.Scan.DispatchBurst,
		Archiver:      archiver,
		Logger:        logger,
	})

	// WebSocket fan-out
	hub := ws.NewHub(logger)
	go hub.Run(ctx)
	events, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	go hub.Forward(ctx, events)

	deps := router.Deps{
		Config:    cfg,
		Logger:    logger,
		Keys:      keyService,
		Runner:    runner,
		Limiter:   limiter,
		Reports:   reports.NewService(runner, logger),
		WebSocket: hub.ServeWS,
		Health:    health,
	}
	if archive != nil {
		deps.Archive = archive
	}

	addr := fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.New(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// in-flight jobs finalize as errors and are persisted before exit
	runner.Close()

	logger.Info("Server stopped")
}
