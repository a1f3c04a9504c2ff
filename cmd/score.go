package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/forgescore/internal/model"
)

var (
	recomputeAsync bool
	scoreHistory   int
)

var recomputeCmd = &cobra.Command{
	Use:   "recompute <builder-id>",
	Short: "Recompute a builder's score",
	Long:  "Scores the builder's active evidence and writes a history row. With --async a manual job is queued for the worker instead.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		if recomputeAsync {
			job, err := env.Pipeline.EnqueueRecompute(ctx, args[0], model.TriggerManual, "", model.PriorityManual)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		}

		res, err := env.Pipeline.ComputeScoreForBuilder(ctx, args[0], model.TriggerManual, false)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var processCmd = &cobra.Command{
	Use:   "process <job-id>",
	Short: "Process one queued recompute job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.ProcessRecomputeJob(ctx, args[0])
		if err != nil {
			return err
		}
		if res == nil {
			job, err := env.Store.GetJob(ctx, args[0])
			if err != nil {
				return err
			}
			return eris.Errorf("job %s is %s, nothing to do", job.ID, job.Status)
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score <builder-id>",
	Short: "Show a builder's current score and recent history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		proj, err := env.Store.GetBuilderProjection(ctx, args[0])
		if err != nil {
			return err
		}
		hist, err := env.Store.ListScoreHistory(ctx, args[0], scoreHistory)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"builder": proj,
			"history": hist,
		})
	},
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	recomputeCmd.Flags().BoolVar(&recomputeAsync, "async", false, "queue a job instead of computing inline")
	scoreCmd.Flags().IntVar(&scoreHistory, "history", 10, "number of history rows to show")
	rootCmd.AddCommand(recomputeCmd, processCmd, scoreCmd)
}
