package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/helixir/search-agent/internal/agent"
	"github.com/helixir/search-agent/internal/checkpoint"
	"github.com/helixir/search-agent/internal/database"
	httpserver "github.com/helixir/search-agent/internal/server/http"
	"github.com/helixir/search-agent/internal/stream"
)

func streamCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stream",
		Short: "Consume metadata notifications and keep the search index current",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStream(cmd.Context())
		},
	}
}

func (a *app) runStream(parent context.Context) error {
	cfg := a.cfg
	instanceID := uuid.NewString()
	logger := a.logger.With().Str("component", "agent").Str("instance_id", instanceID).Logger()
	logger.Info().Msg("search-agent starting")

	// Set up context with graceful shutdown via OS signals.
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, a.logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, a.logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := migrator.Up(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	store := checkpoint.NewPgStore(db, cfg.Stream.StreamName(), instanceID, a.metrics, a.logger)

	processor, indexClient, err := a.processor(store, agent.WithFailureRecorder(store))
	if err != nil {
		return err
	}

	supervisor := stream.NewSupervisor(stream.Config{
		Brokers:              cfg.Stream.Brokers,
		Topic:                cfg.Stream.Topic,
		Shards:               cfg.Stream.Shards,
		StartPosition:        cfg.Stream.StartPosition,
		MinBytes:             cfg.Stream.MinBytes,
		MaxBytes:             cfg.Stream.MaxBytes,
		MaxWait:              cfg.Stream.MaxWait,
		RecordsPerSecond:     cfg.Stream.RecordsPerSecond,
		RetryInitialInterval: cfg.Stream.RetryInitialInterval,
		RetryMaxInterval:     cfg.Stream.RetryMaxInterval,
	}, processor, store, agent.IsTransient, a.metrics, a.logger)

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	httpSrv := httpserver.NewServer(httpCfg, processor, store, db, indexClient, a.logger)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Channel to collect server and consumer errors.
	errCh := make(chan error, 3)

	// Start HTTP admin API server in background.
	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Start metrics server if configured.
	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	// Start the stream consumer. It returns nil once ctx is cancelled.
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := supervisor.Run(ctx); err != nil {
			errCh <- fmt.Errorf("stream consumer error: %w", err)
		}
	}()

	readyLog := logger.Info().
		Str("stream", store.Stream()).
		Str("http_address", httpCfg.Address)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("search-agent is ready")

	// Wait for shutdown signal or a fatal error.
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("search-agent stopping on error")
		stop()
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down search-agent")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("stream consumer did not stop before the shutdown timeout")
	}

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().
		Int64("document_failures", processor.DocumentFailures()).
		Msg("search-agent shutdown complete")
	return runErr
}
