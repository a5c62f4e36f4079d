// Package cmd wires the pulse command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Pulse - streaming conversation agent server",
	Long: `Pulse serves a tool-augmented conversational agent over HTTP.

Running pulse without a subcommand starts the server, same as pulse serve.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
