// Package cli provides the evalkit commands for running experiments and
// inspecting their reports.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root evalkit command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "evalkit",
		Short: "AI agent evaluation harness",
		Long: `evalkit runs an agent over a dataset, scores every output with a set of
evaluators and checks the aggregated scores against CI thresholds.`,
	}

	// Add subcommands
	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewViewCmd())
	rootCmd.AddCommand(NewSummaryCmd())
	rootCmd.AddCommand(NewVerifyCmd())
	rootCmd.AddCommand(NewDiffCmd())
	rootCmd.AddCommand(NewProbeCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
