package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"csclub/backend/internal/repository"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the run journal table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			pool, err := initDatabase(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repository.NewPostgresRunJournal(pool).Migrate(ctx); err != nil {
				return err
			}
			a.logger.Info("Run journal schema is up to date", "database", a.cfg.DB.Name)
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
