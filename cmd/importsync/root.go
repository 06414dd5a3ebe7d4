package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath   string
	strictConfig bool
}

func newRootCmd(hostname string) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "importsync",
		Short:         "Create STATBUS import jobs and follow their progress",
		Version:       build,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "YAML config file; STATBUS_* variables override it")
	cmd.PersistentFlags().BoolVar(&flags.strictConfig, "strict-config", false, "Read only the config file and reject unknown keys")

	cmd.AddCommand(
		newCreateCmd(flags, hostname),
		newWatchCmd(flags, hostname),
		newCountsCmd(flags, hostname),
		newDefinitionsCmd(flags, hostname),
		newPendingCmd(flags, hostname),
		newMigrateCmd(flags, hostname),
	)
	return cmd
}
