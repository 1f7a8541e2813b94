package main

import (
	"github.com/spf13/cobra"

	"github.com/entelliextract/intelliextract/internal/workflow"
)

func newExtractCmd() *cobra.Command {
	var flags workflowFlags

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Submit staged spreadsheets to the extraction API",
		Long: `Walk the staging tree and submit each file without a recorded
extraction outcome to the API, under bounded concurrency and an optional
requests-per-second cap. Use --retry-failed to also resubmit files whose
last attempt errored.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runWorkflow(workflow.CaseExtract, flags)
		},
	}

	bindWorkflowFlags(cmd, &flags)

	return cmd
}
