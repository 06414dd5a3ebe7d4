package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ahrav/statbus-sync/internal/infra/storage"
)

func newMigrateCmd(root *rootFlags, hostname string) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the import schema to the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, root, hostname)
			if err != nil {
				return err
			}
			defer a.close()

			if a.pool == nil {
				return errors.New("migrate needs database_url with the postgres backend or listen transport")
			}
			if source == "" {
				source = storage.MigrationsPath()
			}
			if err := storage.Migrate(a.pool, source); err != nil {
				return fmt.Errorf("migrating (source: %s): %w", source, err)
			}
			a.log.Info(ctx, "migrations applied", "source", source)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Migration source URL; defaults to the bundled migrations")
	return cmd
}
