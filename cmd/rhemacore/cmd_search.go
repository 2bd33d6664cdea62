package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rhema/internal/schema"
	"rhema/internal/search"
	"rhema/pkg/rhema"
)

var (
	searchMode           string
	searchField          string
	searchLimit          int
	searchScope          string
	searchModifiedAfter  string
	searchModifiedBefore string
	searchWeightFullText float64
	searchWeightKeyword  float64

	suggestLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search [kind] [pattern]",
	Short: "Search a document kind's corpus (regex, fulltext, or hybrid)",
	Args:  cobra.ExactArgs(2),
	RunE:  runSearch,
}

var suggestCmd = &cobra.Command{
	Use:   "suggest [kind] [prefix]",
	Short: "Suggest indexed terms beginning with prefix, ranked by postings count",
	Args:  cobra.ExactArgs(2),
	RunE:  runSuggest,
}

func init() {
	searchCmd.Flags().StringVar(&searchMode, "mode", "fulltext", "Search mode: regex, fulltext, hybrid")
	searchCmd.Flags().StringVar(&searchField, "field", "", "Field to match (regex mode only)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "Maximum hits to return")
	searchCmd.Flags().StringVar(&searchScope, "scope", "", "Restrict results to this scope name")
	searchCmd.Flags().StringVar(&searchModifiedAfter, "modified-after", "", "Restrict to files modified after this RFC3339 timestamp")
	searchCmd.Flags().StringVar(&searchModifiedBefore, "modified-before", "", "Restrict to files modified before this RFC3339 timestamp")
	searchCmd.Flags().Float64Var(&searchWeightFullText, "weight-fulltext", 1, "Hybrid mode: weight for full-text relevance (normalized against weight-keyword)")
	searchCmd.Flags().Float64Var(&searchWeightKeyword, "weight-keyword", 1, "Hybrid mode: weight for literal keyword matches (normalized against weight-fulltext)")

	suggestCmd.Flags().IntVar(&suggestLimit, "limit", 10, "Maximum suggestions to return")
}

func runSearch(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}

	filter := rhema.Filter{ScopeName: searchScope}
	if searchModifiedAfter != "" {
		t, err := time.Parse(time.RFC3339, searchModifiedAfter)
		if err != nil {
			return fmt.Errorf("invalid --modified-after: %w", err)
		}
		filter.ModifiedAfter = t
	}
	if searchModifiedBefore != "" {
		t, err := time.Parse(time.RFC3339, searchModifiedBefore)
		if err != nil {
			return fmt.Errorf("invalid --modified-before: %w", err)
		}
		filter.ModifiedBefore = t
	}
	weights := search.Weights{FullText: searchWeightFullText, Keyword: searchWeightKeyword}

	core, err := rhema.Open(workspace)
	if err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}
	defer core.Close()

	hits, err := core.Search(kind, rhema.SearchMode(searchMode), args[1], searchField, weights, filter, searchLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	for _, h := range hits {
		fmt.Printf("%.3f\t%s/%s\t%s\n", h.Score, h.ScopeName, h.DocID, h.Snippet)
	}
	return nil
}

func runSuggest(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}

	core, err := rhema.Open(workspace)
	if err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}
	defer core.Close()

	suggestions, err := core.Suggest(kind, args[1], suggestLimit)
	if err != nil {
		return fmt.Errorf("suggest failed: %w", err)
	}

	for _, s := range suggestions {
		fmt.Println(s)
	}
	return nil
}

func parseKind(s string) (schema.Kind, error) {
	for _, k := range schema.AllKinds {
		if strings.EqualFold(string(k), s) || strings.EqualFold(schema.RootKeyForKind[k], s) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown document kind %q", s)
}
