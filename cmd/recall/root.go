package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/antoniostano/recall/internal/app"
	"github.com/antoniostano/recall/internal/config"
	"github.com/antoniostano/recall/internal/logging"
)

const rootLongDesc string = `recall remembers what users told the assistant.

It keeps per-session conversation memory, derives a context block for the
next model prompt, and mirrors individual chat messages to an optional
Postgres store.

Run the service:
  recall serve

Inspect or maintain stored memory:
  recall context <user> <session>
  recall history <user>
  recall clear <user>
  recall cleanup
  recall messages recent <user>`

const rootShortDesc string = "recall - conversation memory service"

type rootOptions struct {
	debug     bool
	cachePath string
	dbURL     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "recall",
		Short:         rootShortDesc,
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging (overrides APP_LOG_DEBUG)")
	cmd.PersistentFlags().StringVar(&opts.cachePath, "cache", "", "Path to the SQLite cache (overrides CACHE_PATH)")
	cmd.PersistentFlags().StringVar(&opts.dbURL, "database-url", "", "Postgres URL for chat messages (overrides DATABASE_URL)")

	cmd.AddCommand(
		newServeCmd(opts),
		newContextCmd(opts),
		newHistoryCmd(opts),
		newClearCmd(opts),
		newCleanupCmd(opts),
		newMessagesCmd(opts),
	)
	return cmd
}

// loadConfig reads the environment and applies command line overrides.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	if cmd.Flags().Changed("debug") {
		cfg.LogDebug = o.debug
	}
	if o.cachePath != "" {
		cfg.CachePath = o.cachePath
	}
	if o.dbURL != "" {
		cfg.DatabaseURL = o.dbURL
	}
	return cfg, nil
}

// withService builds the service for a one-shot operator command. Logs go to
// stderr so command output stays machine readable.
func (o *rootOptions) withService(cmd *cobra.Command, fn func(ctx context.Context, svc *app.BuildResult) error) error {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.NewWithWriters(cfg.LogDebug, cmd.ErrOrStderr())
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Cleanup(); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}()
	return fn(ctx, svc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
