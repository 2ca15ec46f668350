// Package cmd holds the ctrlhost commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// OsExit is swapped out by tests.
var OsExit = os.Exit

// NewRootCommand creates the root command for ctrlhost.
func NewRootCommand() *cobra.Command {
	var showVersion bool

	cmd := &cobra.Command{
		Use:   "ctrlhost",
		Short: "ctrlhost - run ctrlloop modules on a fixed-rate control loop",
		Long: `ctrlhost loads the obstacle avoider and its companion modules onto a
signal bus and drives them from a fixed-rate control loop.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), PrintVersion())
				return nil
			}
			return cmd.Help()
		},
	}
	cmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Print version information")

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewConfigCommand())
	cmd.AddCommand(NewVersionCommand())
	return cmd
}

// NewVersionCommand prints version information.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), PrintVersion())
		},
	}
}

// PrintVersion formats version information.
func PrintVersion() string {
	return fmt.Sprintf("ctrlhost v%s (commit: %s, built on: %s)", Version, Commit, Date)
}
