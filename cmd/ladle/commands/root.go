package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ladle",
		Short: "Ladle - Recipe-driven data loading engine",
		Long: `Ladle moves data between sources and destinations using declarative
YAML recipes with inheritance, templating, and incremental state.

Features:
  - Recipe inheritance with deep merge and delete directives
  - env_var() and var() template expressions
  - CSV, SQLite, filestore (local/SFTP) and REST API connectors
  - Starlark expressions and WASM modules for row transforms
  - Incremental cursor state in file, SQLite, or Redis backends
  - Policy enforcement via OPA/rego`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newRenderCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newTestConnectionCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newStateCommand())
	rootCmd.AddCommand(newDevCommand())

	return rootCmd
}
