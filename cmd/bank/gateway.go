package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/npd-bank/npd_bank/internal/bridge"
	"github.com/npd-bank/npd_bank/internal/broker"
	"github.com/npd-bank/npd_bank/internal/config"
	"github.com/npd-bank/npd_bank/internal/infra"
	"github.com/npd-bank/npd_bank/internal/metrics"
	"github.com/npd-bank/npd_bank/internal/routes"
	"github.com/npd-bank/npd_bank/internal/server"
)

func newGatewayCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Serve the public HTTP API and forward calls to the workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context(), opts)
		},
	}
}

func runGateway(parent context.Context, opts *rootOptions) error {
	cfg, logger, err := setup(opts, "gateway", config.Redis, config.RabbitMQ)
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

	amqpConn, err := infra.NewRabbitMQConnection(cfg.RabbitMQURL)
	if err != nil {
		return err
	}
	conn := broker.New(amqpConn, logger)
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Warn("close rabbitmq", "error", err)
		}
	}()

	signals := bridge.NewSignals(cache, logger)
	// Resubscribes on its own until ctx ends.
	go signals.Run(ctx) //nolint:errcheck

	m := metrics.New()
	gw := bridge.NewGateway(bridge.GatewayConfig{
		Publisher:    conn,
		Responses:    bridge.NewResponseStore(cache, cfg.ResponseTTL),
		Signals:      signals,
		Routes:       routes.ActionTable(),
		Timeout:      cfg.ResponseTimeout,
		PollInterval: cfg.PollInterval,
		Logger:       logger,
		Metrics:      m,
	})

	srv, err := server.New(cfg, routes.Deps{
		Cache:   cache,
		Gateway: gw,
		Checks: map[string]routes.Check{
			"rabbitmq": func(context.Context) error { return conn.Healthy() },
		},
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	logger.Info("gateway listening", "address", cfg.Address())
	return serve(ctx, logger, srv, srv.Listen, cfg.ShutdownPeriod)
}
