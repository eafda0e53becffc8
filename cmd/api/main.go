package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/api"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/audit"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/cache"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/config"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/database"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/face"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/ratelimit"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/repository"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/service"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/streamtoken"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/usage"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/webhook"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/ws"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting Rekko Liveness API",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.Port),
		slog.String("face_provider", cfg.FaceProvider),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate {
		if err := database.MigrateUp(ctx, cfg.DatabaseURL, logger); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	poolCfg := database.DefaultPoolConfig(cfg.DatabaseURL)
	poolCfg.MaxConns = cfg.DBMaxConns
	pool, err := database.NewPool(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	// Repositories
	tenantRepo := repository.NewTenantRepository(pool)
	apiKeyRepo := repository.NewAPIKeyRepository(pool)
	pgCache := cache.NewPGCache(pool)
	cachedTenants := cache.NewTenantRepository(tenantRepo, pgCache, cfg.TenantCacheTTL, logger)
	limiter := ratelimit.NewRateLimiter(pool, time.Minute)

	// Events
	hub := ws.NewHub(logger)
	webhooks := webhook.NewService(pool, logger)
	webhookWorker := webhook.NewWorker(pool, webhooks, logger)

	// Usage and quotas
	usageRepo := usage.NewRepository(pool)
	usageService := usage.NewService(usageRepo, webhooks, pgCache, logger)
	usageRecorder := usage.NewRecorder(usageService, logger, usage.RecorderConfig{
		FlushInterval: cfg.UsageFlushInterval,
	})
	usageWorker := usage.NewWorker(usageService, usageRepo, logger, cfg.QuotaCheckInterval)

	auditLogger := audit.NewSlogLogger(logger)
	faceProvider, err := face.NewFaceProvider(ctx, cfg, face.WithAuditLogger(auditLogger))
	if err != nil {
		return fmt.Errorf("failed to create face provider: %w", err)
	}

	livenessService, err := service.NewLivenessService(service.LivenessDependencies{
		Sessions: repository.NewLivenessSessionRepository(pool),
		Captures: repository.NewCaptureRepository(pool),
		Provider: faceProvider,
		Limiter:  limiter,
		Events:   hub,
		Webhooks: webhooks,
		Usage:    usageRecorder,
		Audit:    auditLogger,
		Logger:   logger,
	}, service.LivenessConfig{
		Liveness:          cfg.Liveness(),
		Tracking:          cfg.Tracking(),
		SessionTTL:        cfg.SessionTTL,
		SessionsPerMinute: cfg.SessionsPerMinute,
		IdleEviction:      cfg.SessionIdleEviction,
	})
	if err != nil {
		return fmt.Errorf("failed to create liveness service: %w", err)
	}

	janitor := service.NewJanitor(livenessService, map[string]service.Cleaner{
		"cache":       pgCache,
		"rate_limits": limiter,
	}, cfg.JanitorInterval, logger)

	stream := ws.DefaultStreamConfig()
	stream.FramesPerSecond = cfg.FramesPerSecond

	// Setup router
	router := api.NewRouter(logger, &api.Dependencies{
		DB:             pool,
		TenantRepo:     cachedTenants,
		APIKeyRepo:     apiKeyRepo,
		LastUsedWorker: middleware.NewLastUsedWorker(apiKeyRepo, logger, middleware.DefaultLastUsedWorkerConfig()),
		Liveness:       livenessService,
		Janitor:        janitor,
		Hub:            hub,
		Webhooks:       webhooks,
		WebhookWorker:  webhookWorker,
		StreamTokens:   streamtoken.NewIssuer(cfg.APIKeySecret, "rekko-liveness", cfg.StreamTokenTTL),
		Stream:         stream,
		Usage:          usageService,
		UsageRecorder:  usageRecorder,
		UsageWorker:    usageWorker,
		Version:        version,
	})
	router.Setup()

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("server listening", slog.String("addr", addr))
		if err := router.Listen(addr); err != nil {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down server...")
	done := make(chan error, 1)
	go func() { done <- router.Shutdown() }()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("shutdown error", slog.Any("error", err))
		}
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out")
	}

	logger.Info("server stopped")
	return nil
}
