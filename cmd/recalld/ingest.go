package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recalld/internal/engine"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

var ingestFlags struct {
	scope      string
	recType    string
	kind       string
	source     string
	importance float64
	jsonOut    bool
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest one memory from a file or stdin",
	Long: `Ingest content as a memory record. Reads from the given file, or from
stdin when the argument is omitted or "-".

Examples:
  # Ingest a handoff note
  recalld ingest --scope myproject --type handoff --source session note.md

  # Pipe an insight in
  echo "..." | recalld ingest --scope myproject --type insight --source manual`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFlags.scope, "scope", "", "scope ID (required)")
	ingestCmd.Flags().StringVar(&ingestFlags.recType, "type", string(memory.TypeInsight), "record type")
	ingestCmd.Flags().StringVar(&ingestFlags.kind, "kind", string(memory.KindProse), "content kind (prose or code)")
	ingestCmd.Flags().StringVar(&ingestFlags.source, "source", "manual", "source label")
	ingestCmd.Flags().Float64Var(&ingestFlags.importance, "importance", 0.5, "importance weight in [0,1]")
	ingestCmd.Flags().BoolVar(&ingestFlags.jsonOut, "json", false, "print the result as JSON")
	_ = ingestCmd.MarkFlagRequired("scope")
}

func runIngest(cmd *cobra.Command, args []string) error {
	content, err := readInput(args)
	if err != nil {
		return err
	}

	return withEngine(cmd.Context(), func(ctx context.Context, env *cliEnv) error {
		res, err := env.engine.Ingest(ctx, engine.IngestRequest{
			ScopeID:    ingestFlags.scope,
			Content:    string(content),
			Type:       memory.RecordType(ingestFlags.recType),
			Kind:       memory.ContentKind(ingestFlags.kind),
			Source:     ingestFlags.source,
			Importance: ingestFlags.importance,
		})
		if err != nil {
			return err
		}
		// One-shot process: flush the in-memory buffer before exit so
		// nothing is lost when the process ends.
		env.engine.ProcessPending(ctx)

		if ingestFlags.jsonOut {
			return json.NewEncoder(os.Stdout).Encode(res)
		}
		if res.Queued {
			fmt.Printf("queued %d record(s) for later persistence\n", res.Chunks)
		} else {
			fmt.Printf("ingested %d record(s)\n", res.Chunks)
		}
		for _, id := range res.RecordIDs {
			fmt.Printf("  %s\n", id)
		}
		return nil
	})
}

// readInput reads the positional file argument, or stdin for "-"/none.
func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return content, nil
	}
	content, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", args[0], err)
	}
	return content, nil
}
