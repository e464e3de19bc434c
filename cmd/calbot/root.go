package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "calbot",
		Short: "Natural-language calendar assistant",
		Long: `calbot turns free-form messages such as "tomorrow at 3pm team sync" into
calendar operations. Single changes are applied at once; recurring series,
batches and bulk deletions wait for an explicit confirmation.

Configuration comes from environment variables, optionally layered over the
YAML file named by CALBOT_CONFIG.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(`{{printf "calbot version %s\n" .Version}}`)
	root.AddCommand(newServeCmd())
	root.AddCommand(newParseCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "calbot version %s\n", version)
		},
	}
}
