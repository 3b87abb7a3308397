package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/antoniostano/recall/internal/app"
	"github.com/antoniostano/recall/internal/logging"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the memory HTTP and websocket service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.BindAddr = listen
			}

			logger := logging.New(cfg.LogDebug)
			defer func() { _ = logger.Sync() }()

			svc, err := app.Build(context.Background(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := svc.Cleanup(); err != nil {
					logger.Warn("cleanup failed", zap.Error(err))
				}
			}()

			runCtx, runCancel := context.WithCancel(context.Background())
			defer runCancel()
			svc.StartBackground(runCtx)

			httpServer := &http.Server{
				Addr:    cfg.BindAddr,
				Handler: svc.API.Router(),
			}

			errChan := make(chan error, 1)
			go func() {
				logger.Info("server listening", zap.String("addr", cfg.BindAddr))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errChan <- fmt.Errorf("listen error: %w", err)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-sigCh:
				logger.Info("shutdown signal received")
			case err := <-errChan:
				return err
			}

			runCancel()
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

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Address to listen on (overrides APP_BIND_ADDR)")
	return cmd
}
