package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/npd-bank/npd_bank/internal/config"
	"github.com/npd-bank/npd_bank/internal/logging"
)

// rootOptions holds flags shared by every role.
type rootOptions struct {
	logLevel string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "bank",
		Short:         "NPD bank services",
		Long:          "Runs one role of the bank: the HTTP gateway, a queue worker, the realtime server, or schema migration.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL (debug|info|warn|error)")

	cmd.AddCommand(newGatewayCommand(opts))
	cmd.AddCommand(newWorkerCommand(opts))
	cmd.AddCommand(newRealtimeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))

	return cmd
}

// setup loads configuration, checks the role's dependencies and builds its logger.
func setup(opts *rootOptions, service string, deps ...config.Dependency) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Require(deps...); err != nil {
		return config.Config{}, nil, err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = strings.ToLower(opts.logLevel)
	}
	return cfg, logging.New(cfg.LogLevel, service), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// shutdowner is a process that listens until shut down.
type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// serve runs listen until ctx ends, then shuts srv down within period.
func serve(ctx context.Context, logger *slog.Logger, srv shutdowner, listen func() error, period time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- listen()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), period)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("server exited cleanly")
	return nil
}
