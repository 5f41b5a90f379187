package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/ava/internal/app"
)

func newServeCmd() *cobra.Command {
	var (
		tools bool
		addr  string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the browser chat UI and JSON/WebSocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime("")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if addr != "" {
				cfg.BindAddr = addr
			}

			res, err := app.Build(cmd.Context(), cfg, app.Options{Tools: tools, Logger: logger})
			if err != nil {
				return err
			}
			defer func() {
				if err := res.Cleanup(); err != nil {
					logger.Warn("cleanup failed", zap.Error(err))
				}
			}()

			httpServer := &http.Server{
				Addr:    cfg.BindAddr,
				Handler: res.API.Router(),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server listening",
					zap.String("addr", cfg.BindAddr),
					zap.String("provider", res.Loop.Provider()),
					zap.String("session_id", res.Sessions.ActiveID()),
				)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err, ok := <-errCh:
				if ok {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			logger.Info("shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful shutdown failed", zap.Error(err))
				_ = httpServer.Close()
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&tools, "tools", false, "let the assistant use the calculator and wikipedia tools")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides AVA_BIND_ADDR)")
	return cmd
}
