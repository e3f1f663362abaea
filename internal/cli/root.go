// Package cli implements the headerlock command-line interface using
// cobra.
package cli

import (
	"github.com/spf13/cobra"
)

// Execute runs the root command.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "headerlock",
		Short: "Declarative HTTP request-header overrides",
		Long: `Headerlock maintains a set of custom request-header overrides,
optionally scoped to domains and optionally time-boxed, compiled into
declarative filter rules and reconciled against a live rule table.

Quick start:
  headerlock run --config headerlock.yaml
  headerlock check profile.json
  headerlock import profile.json
  headerlock status`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		runCmd(),
		checkCmd(),
		statusCmd(),
		exportCmd(),
		importCmd(),
		versionCmd(),
	)

	return cmd
}
