package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recalld/internal/engine"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

var queryFlags struct {
	scope         string
	kind          string
	types         []string
	limit         int
	includeShared bool
	jsonOut       bool
	perTurn       bool
	bootstrap     bool
}

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Search memories by semantic similarity and recency",
	Long: `Search the scope's memories. Results are ranked by the blended
semantic/temporal score; stale records sink, recent relevant ones rise.

Examples:
  # Ranked search
  recalld query --scope myproject "why did we switch to gRPC"

  # Assembled per-turn context block
  recalld query --scope myproject --per-turn "queue corruption handling"

  # Session-start bootstrap block (no query text)
  recalld query --scope myproject --bootstrap`,
	Args: cobra.MaximumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryFlags.scope, "scope", "", "scope ID (required)")
	queryCmd.Flags().StringVar(&queryFlags.kind, "kind", string(memory.KindProse), "query kind (prose or code)")
	queryCmd.Flags().StringSliceVar(&queryFlags.types, "types", nil, "restrict to record types")
	queryCmd.Flags().IntVar(&queryFlags.limit, "limit", 10, "maximum results")
	queryCmd.Flags().BoolVar(&queryFlags.includeShared, "shared", false, "also search the shared scope")
	queryCmd.Flags().BoolVar(&queryFlags.jsonOut, "json", false, "print results as JSON")
	queryCmd.Flags().BoolVar(&queryFlags.perTurn, "per-turn", false, "assemble a per-turn context block")
	queryCmd.Flags().BoolVar(&queryFlags.bootstrap, "bootstrap", false, "assemble the session-start context block")
	_ = queryCmd.MarkFlagRequired("scope")
}

func runQuery(cmd *cobra.Command, args []string) error {
	if queryFlags.bootstrap {
		return withEngine(cmd.Context(), func(ctx context.Context, env *cliEnv) error {
			block, err := env.engine.BootstrapContext(ctx, queryFlags.scope)
			if err != nil {
				return err
			}
			return printContext(block.Render(), block.SkipReason)
		})
	}

	if len(args) == 0 {
		return fmt.Errorf("query text required (or use --bootstrap)")
	}
	req := engine.QueryRequest{
		ScopeID:       queryFlags.scope,
		Query:         args[0],
		Kind:          memory.ContentKind(queryFlags.kind),
		Limit:         queryFlags.limit,
		IncludeShared: queryFlags.includeShared,
	}
	for _, t := range queryFlags.types {
		req.Types = append(req.Types, memory.RecordType(t))
	}

	return withEngine(cmd.Context(), func(ctx context.Context, env *cliEnv) error {
		if queryFlags.perTurn {
			block, err := env.engine.PerTurnContext(ctx, req)
			if err != nil {
				return err
			}
			return printContext(block.Render(), block.SkipReason)
		}

		res, err := env.engine.Query(ctx, req)
		if err != nil {
			return err
		}
		if queryFlags.jsonOut {
			return json.NewEncoder(os.Stdout).Encode(res)
		}
		if res.Degraded {
			fmt.Println("backend unavailable, no results")
			return nil
		}
		for i, sr := range res.Records {
			fmt.Printf("%2d. [%.3f] (%s, %s) %s\n", i+1,
				sr.Final, sr.Record.Type, sr.Freshness, summarize(sr.Record.Content))
		}
		return nil
	})
}

func printContext(rendered, skipReason string) error {
	if rendered == "" {
		fmt.Printf("no context assembled: %s\n", skipReason)
		return nil
	}
	fmt.Println(rendered)
	return nil
}

// summarize flattens content to one trimmed line for listing.
func summarize(content string) string {
	line := strings.Join(strings.Fields(content), " ")
	if len(line) > 100 {
		line = line[:100] + "..."
	}
	return line
}
