package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type createFlags struct {
	timeContext string
	from, to    string
	watch       bool
	poll        time.Duration
}

func newCreateCmd(root *rootFlags, hostname string) *cobra.Command {
	flags := &createFlags{}

	cmd := &cobra.Command{
		Use:   "create <definition-slug>",
		Short: "Create an import job for a definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (flags.from == "") != (flags.to == "") {
				return fmt.Errorf("--from and --to must be given together")
			}

			ctx := cmd.Context()
			a, err := setup(ctx, root, hostname)
			if err != nil {
				return err
			}
			defer a.close()
			a.startDebug(ctx)

			if err := a.loadTimeContexts(ctx); err != nil {
				return fmt.Errorf("loading time contexts: %w", err)
			}

			sel := a.svc.TimeContexts()
			if flags.timeContext != "" {
				sel.SetSelectedTimeContext(flags.timeContext)
			}
			if flags.from != "" {
				sel.SetUseExplicitDates(true)
				sel.SetExplicitDates(&flags.from, &flags.to)
			}

			job, err := a.svc.CreateImportJob(ctx, args[0])
			if err != nil {
				return err
			}
			if !flags.watch {
				return writeJSON(cmd.OutOrStdout(), job)
			}
			return follow(ctx, a, cmd.OutOrStdout(), flags.poll)
		},
	}
	cmd.Flags().StringVar(&flags.timeContext, "time-context", "", "Ident of the time context to import into")
	cmd.Flags().StringVar(&flags.from, "from", "", "Explicit valid-from date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.to, "to", "", "Explicit valid-to date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&flags.watch, "watch", false, "Follow the job until it finishes")
	cmd.Flags().DurationVar(&flags.poll, "poll", 2*time.Second, "Fallback refresh interval while watching")
	return cmd
}
