package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/callcoach/internal/app"
	"github.com/ent0n29/callcoach/internal/config"
	"github.com/ent0n29/callcoach/internal/logging"
)

const janitorInterval = 5 * time.Second

func newServeCmd() *cobra.Command {
	var bindAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket coaching service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if bindAddr != "" {
				cfg.BindAddr = bindAddr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&bindAddr, "addr", "", "listen address (overrides APP_BIND_ADDR)")
	return cmd
}

func serve(parent context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	built, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Error("cleanup failed", "error", err)
		}
	}()

	built.Engine.StartJanitor(ctx, janitorInterval)

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr, "completion_mode", cfg.Completion.Mode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	select {
	case err, ok := <-listenErr:
		if ok && err != nil {
			return fmt.Errorf("listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}
	logger.Info("shutdown complete")
	return nil
}
