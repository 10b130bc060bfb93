package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"triagesync/internal/api"
	"triagesync/internal/config"
	"triagesync/internal/database"
	"triagesync/internal/deadletter"
	"triagesync/internal/events"
	"triagesync/internal/integration"
	"triagesync/internal/logging"
	"triagesync/internal/metrics"
	"triagesync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}
	logger := baseLogger.With().Str("component", "syncd").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetDefaultMaxRetries(cfg.Queue.MaxRetries)

	metrics.Register()

	sink := initDeadLetterSink(ctx, cfg, &logger)

	router, err := initRouter(ctx, cfg, db, &logger)
	if err != nil {
		return err
	}

	dispatcher := worker.NewDispatcher(db, router, sink, &logger, worker.Options{
		MaxConcurrent: cfg.Queue.MaxConcurrent,
		PollInterval:  cfg.Queue.PollInterval(),
		TaskTimeout:   cfg.Queue.TaskTimeout(),
		Policy: worker.Policy{
			MaxRetries: cfg.Queue.MaxRetries,
			BaseDelay:  cfg.Queue.BackoffBase(),
			MaxDelay:   cfg.Queue.BackoffCap(),
		},
	})
	if err := dispatcher.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := dispatcher.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("dispatcher shutdown error")
		}
	}()

	eventBus := events.NewEventBus()
	events.NewEnqueuer(db, integrationNames(cfg), &logger).Register(eventBus)

	go cleanupLoop(ctx, db, cfg.Queue, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		go serveMetrics(cfg.Monitoring.PrometheusPort, &logger)
	}

	if cfg.API.Enabled {
		apiServer := api.NewHTTPServer(cfg.API, db, sink, cfg.Exports.Path, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().Msg("sync queue running")
	<-ctx.Done()
	logger.Info().Msg("shutting down")
	return nil
}

// initDeadLetterSink wires Redis behind a memory fallback. Without a Redis
// address the memory sink runs alone.
func initDeadLetterSink(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) deadletter.Sink {
	memory := deadletter.NewMemorySink(0)
	if cfg.Redis.Address == "" {
		logger.Warn().Msg("redis not configured, dead letter sink is in-memory only")
		return memory
	}

	client := deadletter.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := deadletter.Ping(pingCtx, client); err != nil {
		logger.Error().Err(err).Msg("redis unreachable at startup, failover will retry")
	}
	return deadletter.NewFailoverSink(deadletter.NewRedisSink(client), memory, logger)
}

func initRouter(ctx context.Context, cfg *config.Config, db *database.DB, logger *zerolog.Logger) (*integration.Router, error) {
	adapters := make([]integration.Adapter, 0, len(cfg.Integrations))
	for _, ic := range cfg.Integrations {
		switch ic.Kind {
		case config.KindREST:
			adapters = append(adapters, integration.NewRESTAdapter(ic))
		case config.KindSheets:
			adapter, err := integration.NewSheetsAdapter(ctx, ic)
			if err != nil {
				return nil, fmt.Errorf("integration %s: %w", ic.Name, err)
			}
			adapters = append(adapters, adapter)
		}
		logger.Info().Str("integration", ic.Name).Str("kind", ic.Kind).Msg("integration registered")
	}
	return integration.NewRouter(db, logger, adapters...), nil
}

func integrationNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Integrations))
	for _, ic := range cfg.Integrations {
		names = append(names, ic.Name)
	}
	return names
}

// cleanupLoop purges old completed tasks on the configured interval.
func cleanupLoop(ctx context.Context, db *database.DB, cfg config.QueueConfig, logger *zerolog.Logger) {
	ticker := time.NewTicker(cfg.CleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := db.CleanupOldTasks(ctx, cfg.RetentionDays)
			if err != nil {
				logger.Error().Err(err).Msg("cleanup failed")
				continue
			}
			logger.Info().Int64("removed", removed).Int("retention_days", cfg.RetentionDays).Msg("old tasks cleaned up")
		}
	}
}

func serveMetrics(port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	logger.Info().Str("addr", addr).Msg("metrics listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
