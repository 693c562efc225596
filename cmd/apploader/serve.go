package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gdorsi/BangleApps/internal/api"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the app loader HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), ctx)
		},
	}
}

func runServer(ctx context.Context, cmdCtx *commandContext) error {
	cfg := cmdCtx.cfg

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting app loader")
	logger.Info("loaded configuration",
		"port", cfg.Port,
		"catalog_url", cfg.CatalogURL,
		"device", cfg.Device,
		"catalog_refresh", cfg.CatalogRefresh,
		"watch_catalog", cfg.WatchCatalog,
	)

	rt, err := newRuntime(ctx, cfg, logger, runtimeOptions{background: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	server := api.NewServer(api.Config{
		Installer:      rt.installer,
		Catalog:        rt.library,
		Toasts:         rt.toasts,
		Progress:       rt.progress,
		Recorder:       rt.recorder,
		AllowedOrigins: cfg.AllowedOrigins,
		Port:           cfg.Port,
	}, logger)

	// Start server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
			return err
		}
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return err
	}

	logger.Info("server stopped gracefully")
	return nil
}
