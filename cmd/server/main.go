package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prisoners-dilemma/internal/config"
	"github.com/prisoners-dilemma/internal/handler"
	"github.com/prisoners-dilemma/internal/kafka"
	"github.com/prisoners-dilemma/internal/notify"
	"github.com/prisoners-dilemma/internal/postgres"
	"github.com/prisoners-dilemma/internal/redis"
	"github.com/prisoners-dilemma/internal/service"
	"github.com/prisoners-dilemma/internal/storage"
	"github.com/prisoners-dilemma/internal/storage/memory"
	"github.com/prisoners-dilemma/internal/websocket"
	"github.com/prisoners-dilemma/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, cfgErr := config.Load(*configPath)
	if cfgErr != nil {
		cfg = config.DefaultConfig()
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)
	if cfgErr != nil {
		logger.Warn("failed to load config file, using defaults", "error", cfgErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	matchService := service.NewMatchService(store, &cfg.Match, &cfg.Rankings, logger)

	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	publishers := service.Publishers{wsHub}

	var syncWorker *worker.SyncWorker
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		rankingCache, err := redis.NewRankingCache(&cfg.Redis, logger)
		if err != nil {
			logger.Warn("failed to connect to Redis, rankings served from the store", "error", err)
		} else {
			defer rankingCache.Close()
			matchService.SetRankingCache(rankingCache)
			logger.Info("connected to Redis")

			syncWorker = worker.NewSyncWorker(store, rankingCache, &cfg.Sync, logger)
			if cfg.Sync.Enabled {
				if err := syncWorker.Start(ctx); err != nil {
					logger.Error("failed to start sync worker", "error", err)
					os.Exit(1)
				}
			} else if err := syncWorker.Sync(ctx); err != nil {
				logger.Warn("failed to sync rankings on startup", "error", err)
			}
		}
	}

	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		eventProducer, err := kafka.NewEventProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka producer, continuing without match events", "error", err)
		} else {
			defer eventProducer.Close()
			publishers = append(publishers, eventProducer)
			logger.Info("Kafka event producer ready", "topic", cfg.Kafka.EventsTopic)
		}

		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.MovesTopic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, matchService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	matchService.SetPublisher(publishers)

	switch cfg.Notifier.Driver {
	case config.NotifierDriverResend:
		matchService.SetNotifier(notify.NewResend(&cfg.Notifier, logger), cfg.Notifier.AppURL)
	default:
		matchService.SetNotifier(notify.NewLogNotifier(logger), cfg.Notifier.AppURL)
	}

	httpHandler := handler.NewHandler(matchService, wsHub, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "storage", cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop intake first so no new moves arrive while the rest drains
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if syncWorker != nil {
		if err := syncWorker.Stop(); err != nil {
			logger.Error("failed to stop sync worker", "error", err)
		}
	}

	wsHub.Stop()

	logger.Info("server stopped")
}

// openStore connects the configured storage driver
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.Storage.Driver == config.StorageDriverMemory {
		logger.Warn("using in-memory storage, data is lost on restart")
		return memory.New(), nil
	}

	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		return nil, err
	}
	if err := repo.RunMigrations(ctx); err != nil {
		repo.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to PostgreSQL")
	return repo, nil
}
