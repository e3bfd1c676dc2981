package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lectern/api/internal/store"
)

func newMigrateCmd() *cobra.Command {
	var rollback bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			ctx := cmd.Context()

			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			if rollback {
				version, err := store.RollbackMigration(ctx, db, cfg.MigrationsDir)
				if err != nil {
					return err
				}
				if version == "" {
					logger.Info("nothing to roll back")
					return nil
				}
				logger.Info("migration rolled back", zap.String("version", version))
				return nil
			}

			applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", zap.Strings("versions", applied), zap.Int("count", len(applied)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&rollback, "rollback", false, "revert the most recent migration instead")
	return cmd
}
