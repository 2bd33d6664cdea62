package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rhema/internal/telemetry"
	"rhema/pkg/rhema"
)

var showStats bool

var queryCmd = &cobra.Command{
	Use:   "query [cql]",
	Short: "Run a CQL query against the workspace",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().BoolVar(&showStats, "stats", false, "Print aggregate telemetry stats after the query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	core, err := rhema.Open(workspace)
	if err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}
	defer core.Close()

	result, stats, err := core.QueryWithStats(args[0])
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	logger.Info("query executed", zap.Int("results", result.Count), zap.Bool("cached", result.Provenance.Cached))
	for _, doc := range result.Documents {
		fmt.Printf("%v\n", doc)
	}
	if showStats {
		fmt.Println(telemetry.FormatStats(stats))
	}
	return nil
}
