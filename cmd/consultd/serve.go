package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/consultd/internal/http"
	"github.com/fyrsmithlabs/consultd/internal/knowledge"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the consultation HTTP API",
	Long: `Start the consultation HTTP API and block until SIGINT or SIGTERM.

When knowledge.watch is enabled the configured disease CSV is re-ingested
whenever it changes on disk.

Examples:
  # Start with defaults
  consultd serve

  # Use a specific config file
  consultd serve --config /etc/consultd/config.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

// runServe starts the server and blocks until ctx is cancelled.
//
// Startup order:
//  1. Configuration, telemetry and logger
//  2. External clients and the orchestrator
//  3. Knowledge watcher (optional)
//  4. HTTP server
//
// Shutdown drains HTTP first, then stops the watcher and closes clients.
func runServe(ctx context.Context) error {
	proc, err := newProcess(ctx)
	if err != nil {
		return err
	}
	cfg := proc.cfg
	logger := proc.logger
	defer proc.Close(context.Background())

	logger.Info(ctx, "starting consultd",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	p, err := newPipeline(ctx, proc)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	defer func() {
		if err := p.Close(context.Background()); err != nil {
			logger.Warn(ctx, "failed to release clients", zap.Error(err))
		}
	}()

	if cfg.Knowledge.Watch && cfg.Knowledge.Source != "" {
		ingester := p.knowledge.ingester(cfg.Knowledge, logger.Underlying())
		watcher, err := knowledge.NewWatcher(cfg.Knowledge.Source, ingester, logger.Underlying())
		if err != nil {
			return fmt.Errorf("failed to watch knowledge source: %w", err)
		}
		watcher.Start(ctx)
		defer watcher.Stop()
		logger.Info(ctx, "watching knowledge source", zap.String("path", cfg.Knowledge.Source))
	}

	srv, err := httpserver.NewServer(p.orch, logger.Underlying(), &httpserver.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	},
		httpserver.WithSessionCounter(p.store),
		httpserver.WithIndex(p.knowledge.index),
	)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "received shutdown signal, shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	logger.Info(context.Background(), "server shutdown complete")
	return nil
}
