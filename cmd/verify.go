package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/forgescore/internal/pipeline"
)

var verifyTarget pipeline.DeliveryTarget

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Probe a delivery and record the evidence",
	Long:  "Checks the deployment URL and the GitHub repository for a delivery, records the probe evidence and queues one recompute.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := verifyTarget.Validate(); err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initApp(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Pipeline.VerifyDelivery(ctx, verifyTarget)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

func init() {
	f := verifyCmd.Flags()
	f.StringVar(&verifyTarget.BuilderID, "builder", "", "builder ID (required)")
	f.StringVar(&verifyTarget.ProjectID, "project", "", "project ID")
	f.StringVar(&verifyTarget.DeliveryID, "delivery", "", "delivery ID")
	f.StringVar(&verifyTarget.DeploymentURL, "url", "", "deployment URL to probe")
	f.StringVar(&verifyTarget.VerificationToken, "token", "", "verification token expected in the deployment body")
	f.StringVar(&verifyTarget.RepoURL, "repo", "", "GitHub repository URL")
	f.StringVar(&verifyTarget.GitHubUsername, "github-user", "", "builder's GitHub username")
	f.StringVar(&verifyTarget.ManifestPath, "manifest", "", "dependency manifest path in the repo, enables stack inference")
	_ = verifyCmd.MarkFlagRequired("builder")
	rootCmd.AddCommand(verifyCmd)
}
