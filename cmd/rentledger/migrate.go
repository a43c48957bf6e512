package main

import (
	"database/sql"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rentledger/config"
	"rentledger/logging"
	"rentledger/migrations"
)

type migrationFunc func(*sql.DB, *zap.Logger) error

func migrateCmd(envFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}
	cmd.AddCommand(
		migrateStep(envFile, "up", "Apply all pending migrations", migrations.Up),
		migrateStep(envFile, "down", "Roll back all migrations", migrations.Down),
	)
	return cmd
}

func migrateStep(envFile *string, use, short string, step migrationFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("migrate: DATABASE_URL is required")
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			sqlDB, err := migrations.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer sqlDB.Close()
			return step(sqlDB, logger)
		},
	}
}
