package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/telhawk-systems/trackstack/common/database"
	"github.com/telhawk-systems/trackstack/common/logging"
	"github.com/telhawk-systems/trackstack/common/messaging"
	"github.com/telhawk-systems/trackstack/common/messaging/memlog"
	"github.com/telhawk-systems/trackstack/storage/internal/config"
	"github.com/telhawk-systems/trackstack/storage/internal/consumer"
	"github.com/telhawk-systems/trackstack/storage/internal/dlq"
	"github.com/telhawk-systems/trackstack/storage/internal/handlers"
	"github.com/telhawk-systems/trackstack/storage/internal/repository"
	"github.com/telhawk-systems/trackstack/storage/internal/server"
	"github.com/telhawk-systems/trackstack/storage/migrations"

	natsclient "github.com/telhawk-systems/trackstack/common/messaging/nats"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("storage"))
	logging.SetDefault(logger)

	slog.Info("Starting Storage consumer",
		slog.Int("port", cfg.Server.Port),
		slog.String("database_backend", cfg.Database.Backend),
		slog.String("log_backend", cfg.Log.Backend),
		slog.Int("partitions", cfg.Log.Partitions),
		slog.String("policy", cfg.Consumer.Policy),
	)
	if *configPath != "" {
		log.Printf("Loaded config from: %s", *configPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Event store
	var repo repository.EventRepository
	switch cfg.Database.Backend {
	case "postgres":
		if cfg.Database.Migrate {
			if err := database.Migrate(migrations.FS, ".", cfg.Database.URL); err != nil {
				log.Fatalf("Failed to run migrations: %v", err)
			}
			log.Println("Database migrations applied")
		}

		pgRepo, err := repository.NewPostgresRepository(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		repo = pgRepo
	case "memory":
		repo = repository.NewMemoryRepository()
		log.Println("WARNING: In-memory event store in use; events are not persisted")
	}
	defer repo.Close()

	// Durable log
	var (
		eventLog messaging.LogConsumer
		health   messaging.HealthChecker
		jsClient *natsclient.JetStreamClient
	)
	switch cfg.Log.Backend {
	case "jetstream":
		natsCfg := natsclient.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.Name = cfg.NATS.Name
		natsCfg.Logger = logger.Logger

		jsClient, err = natsclient.NewJetStreamClient(natsCfg)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer jsClient.Drain()

		logCfg := natsclient.DefaultLogConfig()
		logCfg.Stream = cfg.Log.Stream
		logCfg.SubjectPrefix = cfg.Log.SubjectPrefix
		logCfg.Partitions = cfg.Log.Partitions
		logCfg.AckWait = cfg.Log.AckWait
		logCfg.RedeliveryDelay = cfg.Log.RedeliveryDelay

		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		jsLog, err := natsclient.NewLog(initCtx, jsClient, logCfg, logger.Logger)
		cancel()
		if err != nil {
			log.Fatalf("Failed to initialize event log: %v", err)
		}
		eventLog = jsLog
		health = jsClient
	case "memory":
		memLog := memlog.New(cfg.Log.Partitions)
		eventLog = memLog
		health = memLog
		log.Println("WARNING: In-memory event log in use; nothing will be consumed from other processes")
	}

	// Dead letter queue
	var deadLetters dlq.Writer
	switch cfg.DLQ.Backend {
	case "jetstream":
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		jsDLQ, err := dlq.NewJetStreamQueue(initCtx, jsClient, logger.Logger)
		cancel()
		if err != nil {
			log.Fatalf("Failed to initialize JetStream DLQ: %v", err)
		}
		deadLetters = jsDLQ
		log.Printf("Dead Letter Queue enabled (backend: jetstream, stream: %s)", messaging.StreamDLQ)
	case "file":
		fileDLQ, err := dlq.NewQueue(cfg.DLQ.BasePath, logger.Logger)
		if err != nil {
			log.Fatalf("Failed to initialize file DLQ: %v", err)
		}
		deadLetters = fileDLQ
		log.Printf("Dead Letter Queue enabled (backend: file, path: %s)", cfg.DLQ.BasePath)
		log.Println("WARNING: File-based DLQ does not support multiple storage instances")
	}

	handler := handlers.NewStorageHandler(repo, health, deadLetters)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(handler, logger.Logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Storage admin listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	c := consumer.New(eventLog, repo, deadLetters, consumer.Config{
		MaxAttempts:  cfg.Consumer.MaxAttempts,
		RetryBackoff: cfg.Consumer.RetryBackoff,
		Policy:       cfg.Consumer.Policy,
	}, logger.Logger)

	runErr := c.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Printf("Consumer stopped: %v", runErr)
	}

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		os.Exit(1)
	}
}
