package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/forgescore/internal/store"
)

var legacyCmd = &cobra.Command{
	Use:   "legacy",
	Short: "Manage legacy V2 self-reported scores",
	Long:  "Legacy scores are the pre-V3 self-reported values used as a small fallback boost for builders with little evidence.",
}

var legacySetCmd = &cobra.Command{
	Use:   "set <builder-id> <score>",
	Short: "Set one builder's legacy score",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := parseLegacyScore(args[1])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initApp(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Store.SetLegacyScoreV2(ctx, args[0], score)
	},
}

var legacyImportCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Bulk-load legacy scores from CSV",
	Long:  "Reads builder_id,score rows (header optional, use - for stdin) and writes them in one batch.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		scores, err := parseLegacyCSV(bytes.NewReader(data))
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initApp(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Store.ImportLegacyScores(ctx, scores)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d legacy score(s)\n", n)
		return nil
	},
}

func parseLegacyScore(raw string) (float64, error) {
	score, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, eris.Wrapf(err, "parse score %q", raw)
	}
	if score < 0 || score > 100 {
		return 0, eris.Errorf("legacy score must be between 0 and 100, got %v", score)
	}
	return score, nil
}

// parseLegacyCSV reads builder_id,score rows. A first row whose score column
// is not numeric is treated as a header. Later rows for the same builder win.
func parseLegacyCSV(r io.Reader) ([]store.LegacyScore, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "read legacy csv")
	}

	index := make(map[string]int, len(records))
	var out []store.LegacyScore
	for i, rec := range records {
		id := strings.TrimSpace(rec[0])
		if i == 0 {
			if _, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64); err != nil {
				continue
			}
		}
		if id == "" {
			return nil, eris.Errorf("line %d: builder_id is empty", i+1)
		}
		score, err := parseLegacyScore(rec[1])
		if err != nil {
			return nil, eris.Wrapf(err, "line %d", i+1)
		}
		if j, ok := index[id]; ok {
			out[j].Score = score
			continue
		}
		index[id] = len(out)
		out = append(out, store.LegacyScore{BuilderID: id, Score: score})
	}
	if len(out) == 0 {
		return nil, eris.New("legacy csv has no rows")
	}
	return out, nil
}

func init() {
	legacyCmd.AddCommand(legacySetCmd, legacyImportCmd)
	rootCmd.AddCommand(legacyCmd)
}
