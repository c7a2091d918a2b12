package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	settingsPath  string
	topologyPaths []string
	verbose       bool
	jsonOutput    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "neonlink",
		Short: "neonlink - Neon database provisioning for local applications",
		Long: `neonlink provisions the Neon projects, branches and databases an
application declares, by launching a provisioning worker per project and
waiting for its output file.

Features:
  - Typed topologies via CUE (or YAML)
  - Policy checks (OPA/rego) before any worker is launched
  - Connection details written as .env files per database
  - Suspend and resume of provisioned endpoints
  - Persistent run history in a local SQLite store`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&settingsPath, "config", "c", "", "settings file path")
	rootCmd.PersistentFlags().StringSliceVarP(&topologyPaths, "file", "f", []string{"."}, "topology files or directories")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newUpCommand())
	rootCmd.AddCommand(newSuspendCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newProbeCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}
