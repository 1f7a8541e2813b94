package main

import (
	"github.com/spf13/cobra"

	"github.com/entelliextract/intelliextract/internal/workflow"
)

func newRunCmd() *cobra.Command {
	var flags workflowFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync and extract in one pipeline",
		Long: `Run the full pipeline: mirror remote spreadsheets into the staging
tree, then submit the newly synced files to the extraction API. When
nothing new was synced, leftover staged files are processed instead.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runWorkflow(workflow.CasePipe, flags)
		},
	}

	bindWorkflowFlags(cmd, &flags)

	return cmd
}

// bindWorkflowFlags registers the flags shared by run, sync, and extract.
func bindWorkflowFlags(cmd *cobra.Command, flags *workflowFlags) {
	cmd.Flags().StringVar(&flags.tenant, "tenant", "", "restrict to one tenant (requires --purchaser)")
	cmd.Flags().StringVar(&flags.purchaser, "purchaser", "", "restrict to one purchaser (requires --tenant)")
	cmd.Flags().BoolVar(&flags.resume, "resume", false, "clean up interrupted downloads and skip previously completed files")
	cmd.Flags().BoolVar(&flags.retryFailed, "retry-failed", false, "include previously failed files")
	cmd.Flags().Int64Var(&flags.limit, "limit", 0, "max new downloads this run (0 = config default)")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "extraction concurrency (0 = config default)")
	cmd.Flags().IntVar(&flags.rps, "rps", 0, "extraction requests per second (0 = config default)")

	cmd.MarkFlagsRequiredTogether("tenant", "purchaser")
}
