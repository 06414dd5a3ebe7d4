package main

import (
	"github.com/spf13/cobra"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
)

func newPendingCmd(root *rootFlags, hostname string) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List jobs still waiting for an upload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, root, hostname)
			if err != nil {
				return err
			}
			defer a.close()

			m := domain.ImportMode(a.cfg.Mode)
			if mode != "" {
				m = domain.ImportMode(mode)
			}
			pending := a.svc.PendingJobs()
			if err := pending.Refresh(ctx, m); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), pending.Get(m).Jobs)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "Import mode; defaults to the configured mode")
	return cmd
}
