package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/forgescore/internal/pipeline"
)

var workerOnce bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Drain the recompute queue",
	Long:  "Polls the recompute queue and processes pending jobs, highest priority first. With --once it drains a single batch and exits.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		w := newWorker(env)
		if workerOnce {
			n, err := w.Drain(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "completed %d job(s)\n", n)
			return nil
		}

		w.Run(ctx)
		return nil
	},
}

func newWorker(env *appEnv) *pipeline.Worker {
	return pipeline.NewWorker(env.Pipeline, pipeline.WorkerConfig{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: time.Duration(cfg.Worker.PollIntervalSecs) * time.Second,
		BatchSize:    cfg.Worker.BatchSize,
	})
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "drain one batch and exit")
	rootCmd.AddCommand(workerCmd)
}
