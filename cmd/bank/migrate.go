package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/npd-bank/npd_bank/internal/config"
	"github.com/npd-bank/npd_bank/internal/infra"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), opts)
		},
	}
}

func runMigrate(parent context.Context, opts *rootOptions) error {
	cfg, logger, err := setup(opts, "migrate", config.Postgres)
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

	if err := infra.Migrate(ctx, db); err != nil {
		return err
	}
	logger.Info("schema applied")
	return nil
}
