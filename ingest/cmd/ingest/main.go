package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/telhawk-systems/trackstack/common/logging"
	"github.com/telhawk-systems/trackstack/common/messaging"
	"github.com/telhawk-systems/trackstack/common/messaging/memlog"
	"github.com/telhawk-systems/trackstack/ingest/internal/config"
	"github.com/telhawk-systems/trackstack/ingest/internal/ratelimit"
	"github.com/telhawk-systems/trackstack/ingest/pkg/gateway"

	natsclient "github.com/telhawk-systems/trackstack/common/messaging/nats"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("ingest"))
	logging.SetDefault(logger)

	slog.Info("Starting Ingest gateway",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_backend", cfg.Log.Backend),
		slog.Int("partitions", cfg.Log.Partitions),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}

	// Initialize rate limiter
	var rateLimiter ratelimit.RateLimiter
	if cfg.Redis.Enabled && cfg.Ingestion.RateLimitEnabled {
		log.Printf("Initializing Redis rate limiter: %s", cfg.Redis.URL)
		limiter, err := ratelimit.NewRedisRateLimiter(
			cfg.Redis.URL,
			cfg.Ingestion.RateLimitRequests,
			cfg.Ingestion.RateLimitWindow,
		)
		if err != nil {
			log.Printf("WARNING: Failed to initialize Redis rate limiter: %v", err)
			log.Println("Continuing without rate limiting")
			rateLimiter = &ratelimit.NoOpRateLimiter{}
		} else {
			rateLimiter = limiter
			log.Printf("Rate limiting enabled: %d requests per %s", cfg.Ingestion.RateLimitRequests, cfg.Ingestion.RateLimitWindow)
		}
	} else {
		rateLimiter = &ratelimit.NoOpRateLimiter{}
		if !cfg.Redis.Enabled {
			log.Println("Redis disabled - rate limiting not available")
		}
	}
	defer rateLimiter.Close()

	// Initialize the durable event log
	var (
		producer messaging.LogProducer
		health   messaging.HealthChecker
	)
	switch cfg.Log.Backend {
	case "jetstream":
		natsCfg := natsclient.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.Name = cfg.NATS.Name
		natsCfg.Logger = logger.Logger

		jsClient, err := natsclient.NewJetStreamClient(natsCfg)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer jsClient.Drain()

		logCfg := natsclient.DefaultLogConfig()
		logCfg.Stream = cfg.Log.Stream
		logCfg.SubjectPrefix = cfg.Log.SubjectPrefix
		logCfg.Partitions = cfg.Log.Partitions
		logCfg.Duplicates = cfg.Log.DuplicateWindow
		logCfg.MaxAge = cfg.Log.MaxAge

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		eventLog, err := natsclient.NewLog(ctx, jsClient, logCfg, logger.Logger)
		cancel()
		if err != nil {
			log.Fatalf("Failed to initialize event log: %v", err)
		}
		producer = eventLog
		health = jsClient
		log.Printf("Event log ready (stream: %s, subjects: %s, nats: %s)",
			logCfg.Stream, messaging.WildcardSubject(logCfg.SubjectPrefix), cfg.NATS.URL)
	case "memory":
		memLog := memlog.New(cfg.Log.Partitions)
		defer memLog.Close()
		producer = memLog
		health = memLog
		log.Println("WARNING: In-memory event log in use; events are not persisted")
	}

	router := gateway.NewHandler(gateway.Options{
		Log:            producer,
		Health:         health,
		RateLimiter:    rateLimiter,
		MaxBodySize:    cfg.Ingestion.MaxBodySize,
		PublishTimeout: cfg.Ingestion.PublishTimeout,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Logger:         logger.Logger,
	})

	// Create server with config values
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Ingest gateway listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
