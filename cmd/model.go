package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/forgescore/internal/model"
	"github.com/sells-group/forgescore/internal/scorer"
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Manage scoring model versions",
}

var modelImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Validate and publish a scoring model version",
	Long:  "Reads a scoring model from YAML, validates it and publishes it as the active version. Every other version is deprecated.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		mv, err := parseModelYAML(data)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initApp(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.PublishModelVersion(ctx, mv); err != nil {
			return err
		}
		zap.L().Info("scoring model published", zap.String("version", mv.Version))
		fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", mv.Version)
		return nil
	},
}

var modelShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active scoring model as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		mv, err := env.Store.ActiveModelVersion(ctx)
		if err != nil {
			return err
		}
		if mv == nil {
			def := model.DefaultScoringModel()
			mv = &def
			fmt.Fprintln(cmd.ErrOrStderr(), "no published model, showing the built-in default")
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close() //nolint:errcheck
		return enc.Encode(mv)
	},
}

var modelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List published scoring model versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		versions, err := env.Store.ListModelVersions(ctx)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tEFFECTIVE FROM\tSTATUS")
		for _, v := range versions {
			status := "active"
			if !v.Active() {
				status = "deprecated"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Version, v.EffectiveFrom.Format("2006-01-02"), status)
		}
		return tw.Flush()
	},
}

// parseModelYAML decodes a model file. Omitted sections fall back to the
// built-in default so a file may override only weights or tiers. A missing
// effective_from is stamped at publish time.
func parseModelYAML(data []byte) (model.ScoringModelVersion, error) {
	mv := model.DefaultScoringModel()
	mv.Version = ""
	mv.EffectiveFrom = time.Time{}
	if err := yaml.Unmarshal(data, &mv); err != nil {
		return model.ScoringModelVersion{}, eris.Wrap(err, "parse model yaml")
	}
	if err := scorer.ValidateModel(mv); err != nil {
		return model.ScoringModelVersion{}, err
	}
	return mv, nil
}

func init() {
	modelCmd.AddCommand(modelImportCmd, modelShowCmd, modelListCmd)
	rootCmd.AddCommand(modelCmd)
}
