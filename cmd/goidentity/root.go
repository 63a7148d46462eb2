package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd wires every subcommand. The --config flag is shared.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goidentity",
		Short: "Identity, session and password-recovery service",
		Long: `goidentity serves registration, login, session management and
OTP-based password recovery over a JSON API, backed by PostgreSQL and Redis.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "YAML config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Printf("goidentity %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
