package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/npd-bank/npd_bank/internal/broker"
	"github.com/npd-bank/npd_bank/internal/config"
	"github.com/npd-bank/npd_bank/internal/infra"
	"github.com/npd-bank/npd_bank/internal/metrics"
	"github.com/npd-bank/npd_bank/internal/routes"
	"github.com/npd-bank/npd_bank/internal/worker"
)

func newWorkerCommand(opts *rootOptions) *cobra.Command {
	names := make([]string, 0, len(worker.Roles()))
	for _, r := range worker.Roles() {
		names = append(names, string(r))
	}

	return &cobra.Command{
		Use:       "worker <" + strings.Join(names, "|") + ">",
		Short:     "Consume one service queue",
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := worker.ParseRole(args[0])
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), opts, role)
		},
	}
}

func runWorker(parent context.Context, opts *rootOptions, role worker.Role) error {
	cfg, logger, err := setup(opts, role.ServiceName(), config.Postgres, config.Redis, config.RabbitMQ)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(parent)
	defer stop()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

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

	checks := map[string]routes.Check{
		"database": db.Ping,
		"redis":    func(ctx context.Context) error { return cache.Ping(ctx).Err() },
		"rabbitmq": func(context.Context) error { return conn.Healthy() },
	}
	m := metrics.New()

	d, err := worker.NewDispatcher(role, worker.Deps{
		Config:  cfg,
		Cache:   cache,
		Checks:  checks,
		Logger:  logger,
		Metrics: m,
	}, worker.PostgresComponents(db))
	if err != nil {
		return err
	}

	health := worker.NewHealthApp(role.ServiceName(), checks, m)
	logger.Info("worker consuming", "queue", role.Queue(), "health_address", cfg.HealthAddress())
	if err := worker.Run(ctx, d, conn, cfg.ConsumerPrefetch, health, cfg.HealthAddress()); err != nil {
		return err
	}
	logger.Info("worker exited cleanly")
	return nil
}
