package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rhema/pkg/rhema"
)

var scopeCmd = &cobra.Command{
	Use:   "scope",
	Short: "Inspect a single scope",
}

var scopeGetCmd = &cobra.Command{
	Use:   "get [reference]",
	Short: "Show one scope's descriptor",
	Args:  cobra.ExactArgs(1),
	RunE:  runScopeGet,
}

func init() {
	scopeCmd.AddCommand(scopeGetCmd)
}

func runScopeGet(cmd *cobra.Command, args []string) error {
	core, err := rhema.Open(workspace)
	if err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}
	defer core.Close()

	s, err := core.GetScope(args[0])
	if err != nil {
		return fmt.Errorf("get scope: %w", err)
	}

	fmt.Printf("name: %s\nversion: %s\nschema_version: %s\npath: %s\ndependencies: %d\n",
		s.Name, s.Version, s.SchemaVersion, s.Path, len(s.Dependencies))
	return nil
}
