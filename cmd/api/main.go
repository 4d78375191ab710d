package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/clinicore/onec-bridge/internal/api/router"
	"github.com/clinicore/onec-bridge/internal/booking"
	appconfig "github.com/clinicore/onec-bridge/internal/config"
	"github.com/clinicore/onec-bridge/internal/directory"
	"github.com/clinicore/onec-bridge/internal/integration"
	"github.com/clinicore/onec-bridge/internal/observability/metrics"
	"github.com/clinicore/onec-bridge/internal/onec"
	"github.com/clinicore/onec-bridge/internal/slots"
	"github.com/clinicore/onec-bridge/internal/webhook"
	"github.com/clinicore/onec-bridge/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting onec-bridge API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	loc, err := time.LoadLocation(cfg.AppTimezone)
	if err != nil {
		logger.Error("invalid app timezone", "timezone", cfg.AppTimezone, "error", err)
		os.Exit(1)
	}

	// Stores
	endpointStore := integration.NewStore(pool)
	directoryStore := directory.NewStore(pool)
	mappingStore := directory.NewMappingStore(pool)
	slotRepo := slots.NewPostgresRepository(pool)
	applicationRepo := booking.NewPostgresRepository(pool)

	// Observability
	syncMetrics := metrics.NewSyncMetrics(nil)
	outboundMetrics := metrics.NewOutboundMetrics(nil)

	// Outbound 1C client and booking orchestrator
	onecClient := onec.NewClient(cfg.OneCTimeout, logger)
	orch, err := booking.NewOrchestrator(booking.OrchestratorConfig{
		Client:       onecClient,
		Endpoints:    endpointStore,
		Directory:    directoryStore,
		Applications: applicationRepo,
		Slots:        slotRepo,
		Metrics:      outboundMetrics,
		Logger:       logger,
		Source:       cfg.OneCSource,
		PhoneFiller:  cfg.ManualPhoneFiller,
	})
	if err != nil {
		logger.Error("failed to build booking orchestrator", "error", err)
		os.Exit(1)
	}

	// Slot sync engine with a run-local resolver per batch
	engine, err := slots.NewEngine(slots.EngineConfig{
		Repo: slotRepo,
		NewResolver: func() slots.Resolver {
			return directory.NewResolver(mappingStore, directoryStore, logger)
		},
		Location:  loc,
		Endpoints: endpointStore,
		Metrics:   syncMetrics,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to build sync engine", "error", err)
		os.Exit(1)
	}

	// Inbound webhook processing
	processor, err := webhook.NewProcessor(webhook.ProcessorConfig{
		Engine:       engine,
		Slots:        slotRepo,
		Applications: applicationRepo,
		Branches:     directoryStore,
		Location:     loc,
		Metrics:      syncMetrics,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to build webhook processor", "error", err)
		os.Exit(1)
	}
	deduper := webhook.NewDeduper(redisClient, cfg.WebhookDedupeTTL)
	webhookHandler := webhook.NewHandler(processor, deduper, cfg.WebhookSecret, logger)
	bookingHandler := booking.NewHandler(orch, applicationRepo, slotRepo, logger)

	r := router.New(&router.Config{
		Logger:         logger,
		Webhooks:       webhookHandler,
		Bookings:       bookingHandler,
		MetricsHandler: promhttp.Handler(),
		Ready:          pool.Ping,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
