package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/forgescore/internal/model"
	"github.com/sells-group/forgescore/internal/monitoring"
)

var (
	statusLookback int
	statusAlert    bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue health and score statistics",
	Long:  "Collects queue depth, recent failure rate, stuck jobs and projection statistics. With --alert, breached thresholds are sent to the monitoring webhook.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		lookback := statusLookback
		if lookback <= 0 {
			lookback = cfg.Monitoring.LookbackWindowHours
		}
		snap, err := monitoring.NewCollector(env.Store).Collect(ctx, lookback)
		if err != nil {
			return err
		}

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(snap)
		if statusAlert && len(alerts) > 0 {
			sent := alerter.SendAlerts(ctx, alerts)
			fmt.Fprintf(cmd.ErrOrStderr(), "sent %d of %d alert(s)\n", sent, len(alerts))
		}

		mv, err := env.Store.ActiveModelVersion(ctx)
		if err != nil {
			return err
		}
		version := model.DefaultModelVersion
		if mv != nil {
			version = mv.Version
		}

		if alerts == nil {
			alerts = []monitoring.Alert{}
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"model_version": version,
			"queue":         snap,
			"alerts":        alerts,
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", cfg.Store.Driver)
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLookback, "lookback", 0, "lookback window in hours (default from config)")
	statusCmd.Flags().BoolVar(&statusAlert, "alert", false, "send breached thresholds to the webhook")
	rootCmd.AddCommand(statusCmd, migrateCmd)
}
