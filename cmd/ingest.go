package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/forgescore/internal/ledger"
	"github.com/sells-group/forgescore/internal/pipeline"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.json>",
	Short: "Record evidence from a JSON file",
	Long:  "Reads one evidence object or an array of them (use - for stdin), records each in the ledger and queues recomputes. Duplicates are skipped.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		items, err := parseIngestFile(data)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initApp(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		inserted, dups, err := ingestAll(cmd, env.Pipeline, items)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ingested %d, skipped %d duplicate(s)\n", inserted, dups)
		return nil
	},
}

func ingestAll(cmd *cobra.Command, p *pipeline.Pipeline, items []ledger.IngestParams) (inserted, dups int, err error) {
	for i, item := range items {
		ev, err := p.IngestEvidence(cmd.Context(), item)
		if err != nil {
			return inserted, dups, eris.Wrapf(err, "item %d", i)
		}
		if ev == nil {
			dups++
			continue
		}
		inserted++
		zap.L().Debug("evidence ingested",
			zap.String("id", ev.ID),
			zap.String("builder_id", ev.BuilderID),
			zap.String("type", string(ev.Type)),
		)
	}
	return inserted, dups, nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		return data, eris.Wrap(err, "read stdin")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return data, nil
}

// parseIngestFile accepts a single evidence object or an array of them.
func parseIngestFile(data []byte) ([]ledger.IngestParams, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, eris.New("ingest file is empty")
	}
	if trimmed[0] == '[' {
		var items []ledger.IngestParams
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, eris.Wrap(err, "parse evidence array")
		}
		return items, nil
	}
	var item ledger.IngestParams
	if err := json.Unmarshal(trimmed, &item); err != nil {
		return nil, eris.Wrap(err, "parse evidence")
	}
	return []ledger.IngestParams{item}, nil
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
