package main

import (
	"vaultrouter/internal/persistence"

	"github.com/spf13/cobra"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back SQL migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigration(cmd, *configPath, true)
		},
	}, &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigration(cmd, *configPath, false)
		},
	})
	return cmd
}

func runMigration(cmd *cobra.Command, configPath string, up bool) error {
	cfg, logger, err := loadConfig(configPath, "migrate")
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	db, err := openDB(ctx, cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, logger)
	if up {
		if err := migrator.Up(ctx); err != nil {
			return err
		}
		logger.Info().Msg("all migrations applied")
		return nil
	}
	if err := migrator.Down(ctx); err != nil {
		return err
	}
	logger.Info().Msg("last migration rolled back")
	return nil
}
