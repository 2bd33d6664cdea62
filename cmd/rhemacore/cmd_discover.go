package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rhema/pkg/rhema"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List every scope found under the workspace",
	RunE:  runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	core, err := rhema.Open(workspace)
	if err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}
	defer core.Close()

	scopes, err := core.DiscoverScopes()
	if err != nil {
		return fmt.Errorf("discover scopes: %w", err)
	}

	logger.Info("discovered scopes", zap.Int("count", len(scopes)))
	for _, s := range scopes {
		fmt.Printf("%s\t%s\t%s\n", s.Name, s.Version, s.Path)
	}
	return nil
}
