package main

import (
	"github.com/spf13/cobra"

	"github.com/entelliextract/intelliextract/internal/workflow"
)

func newSyncCmd() *cobra.Command {
	var flags workflowFlags

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror remote spreadsheets into the staging tree",
		Long: `Walk the configured buckets and download every object whose manifest
memo is stale or missing. Unchanged objects are skipped by etag and
SHA-256 comparison; interrupted downloads leave a .part file that the
next --resume invocation cleans up.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runWorkflow(workflow.CaseSync, flags)
		},
	}

	bindWorkflowFlags(cmd, &flags)

	return cmd
}
