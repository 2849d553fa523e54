package cmd

import (
	"fmt"

	"delta-sync/feature/deltasync/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// migrateCmd creates or updates the snapshot and staging tables.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the snapshot and staging tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap()
		if err != nil {
			return err
		}
		defer rt.logger.Sync()

		if err := store.Migrate(rt.db); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
		rt.logger.Info("Migration completed", zap.Strings("tables", store.Tables()))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(migrateCmd)
}
