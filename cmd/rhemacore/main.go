// Package main implements the rhemacore CLI, a thin collaborator over
// the Rhema core engine (pkg/rhema). This file is the entry point and
// command registration hub; each subcommand's implementation lives in
// its own cmd_*.go file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	verbose   bool
	workspace string
	logger    *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rhemacore",
	Short: "rhemacore - repository-local context management CLI",
	Long: `rhemacore is a thin CLI collaborator over the Rhema core engine:
scope discovery, CQL queries, full-text search, and lock file
generation/validation, all operating on a repository's .rhema scopes.

No core logic lives here; every subcommand adapts pkg/rhema to a
terminal.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "Repository root (default: current directory)")

	rootCmd.AddCommand(discoverCmd, queryCmd, searchCmd, suggestCmd, scopeCmd, lockCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
