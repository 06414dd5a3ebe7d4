package main

import (
	"github.com/spf13/cobra"
)

func newCountsCmd(root *rootFlags, hostname string) *cobra.Command {
	return &cobra.Command{
		Use:   "counts",
		Short: "Print current unit counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, root, hostname)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.svc.Open(ctx); err != nil {
				return err
			}
			// Counts that failed stay nil; the error is still reported.
			refreshErr := a.svc.RefreshCounts(ctx)
			if err := writeJSON(cmd.OutOrStdout(), a.svc.Counts()); err != nil {
				return err
			}
			return refreshErr
		},
	}
}
