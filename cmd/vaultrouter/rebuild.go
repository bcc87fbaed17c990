package main

import (
	"vaultrouter/internal/persistence"
	"vaultrouter/internal/projection"

	"github.com/spf13/cobra"
)

func newRebuildCmd(configPath *string) *cobra.Command {
	var pageSize int

	cmd := &cobra.Command{
		Use:   "rebuild-projections",
		Short: "Replay the event log into empty projection tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath, "rebuild")
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			db, err := openDB(ctx, cfg.PostgresURL)
			if err != nil {
				return err
			}
			defer db.Close()

			_, err = projection.RebuildProjections(ctx,
				projection.NewPostgresStore(db),
				persistence.NewSnapshotManager(db),
				pageSize, logger)
			return err
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 500, "events loaded per query")
	return cmd
}
