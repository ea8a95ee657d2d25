package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the tokengate CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokengate",
		Short: "tokengate - captcha-gated login with one active token per user",
		Long: `tokengate verifies a one-time captcha, resolves the user by username, phone
or email, checks the password and account status, and issues a session token
that replaces any token the user held before.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewHashPasswordCmd())
	cmd.AddCommand(NewCreateUserCmd())
	cmd.AddCommand(NewLoadtestCmd())

	return cmd
}
