// Package cli holds the tgfleet command tree.
package cli

import (
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "tgfleet",
		Short:         "Telegram bot that drives a fleet of user accounts",
		Long:          "tgfleet runs a Telegram bot through which operators enroll user accounts and run bulk join, leave, check and broadcast actions across them.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.json", "path to the config file (json, yaml or toml)")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newAdminCmd(opts),
		newAccountsCmd(opts),
		newKeygenCmd(),
	)
	return rootCmd
}
