package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/npd-bank/npd_bank/internal/config"
	"github.com/npd-bank/npd_bank/internal/infra"
	"github.com/npd-bank/npd_bank/internal/metrics"
	"github.com/npd-bank/npd_bank/internal/realtime"
	"github.com/npd-bank/npd_bank/internal/session"
)

func newRealtimeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "realtime",
		Short: "Push notifications to connected clients over websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRealtime(cmd.Context(), opts)
		},
	}
}

func runRealtime(parent context.Context, opts *rootOptions) error {
	cfg, logger, err := setup(opts, "realtime", config.Redis)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(parent)
	defer stop()

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}()

	m := metrics.New()
	sessions := session.NewManager(cache, cfg.SessionTTL, cfg.PresenceTTL)
	hub := realtime.NewHub(realtime.HubConfig{
		Client:   cache,
		Presence: sessions,
		Refresh:  cfg.PresenceRefresh,
		Logger:   logger,
		Metrics:  m,
	})
	srv := realtime.NewServer(realtime.ServerConfig{
		AppName:  cfg.AppName,
		Hub:      hub,
		Sessions: sessions,
		Cache:    cache,
		Metrics:  m,
		Logger:   logger,
	})

	addr := cfg.RealtimeAddress()
	logger.Info("realtime listening", "address", addr)
	return serve(ctx, logger, srv, func() error { return srv.Listen(addr) }, cfg.ShutdownPeriod)
}
