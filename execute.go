package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/entelliextract/intelliextract/internal/store"
	"github.com/entelliextract/intelliextract/internal/workflow"
)

// workflowFlags holds the per-command flags shared by run, sync, and
// extract.
type workflowFlags struct {
	tenant      string
	purchaser   string
	resume      bool
	retryFailed bool
	limit       int64
	concurrency int
	rps         int
}

// runWorkflow builds the app, executes the requested case, and renders
// the outcome for both humans (stderr) and a capturing parent process
// (stdout protocol).
func runWorkflow(caseID string, f workflowFlags) error {
	app, err := buildApp(context.Background())
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := shutdownContext(context.Background(), app.logger)
	pipe := newPipeWriter()

	concurrency := f.concurrency
	if concurrency == 0 {
		concurrency = app.cfg.Extraction.Concurrency
	}

	rps := f.rps
	if rps == 0 {
		rps = app.cfg.Extraction.RequestsPerSecond
	}

	limit := f.limit
	if limit == 0 {
		limit = app.cfg.Sync.DownloadLimit
	}

	req := workflow.Request{
		CaseID:            caseID,
		Tenant:            f.tenant,
		Purchaser:         f.purchaser,
		Origin:            "cli",
		Resume:            f.resume,
		RetryFailed:       f.retryFailed,
		DownloadLimit:     limit,
		Concurrency:       concurrency,
		RequestsPerSecond: rps,
	}

	result, err := app.coord.Execute(ctx, req, func(evt workflow.Event) {
		switch evt.Type {
		case workflow.EventRunID:
			statusf("Run %s\n", evt.RunID)
			pipe.Log("Run started: " + evt.RunID)
		case workflow.EventLog:
			statusf("%s\n", evt.Message)
			pipe.Log(evt.Message)
		case workflow.EventProgress:
			statusf("\r%s: %d/%d", evt.Phase, evt.Done, evt.Total)

			if evt.Done == evt.Total {
				statusf("\n")
			}
		case workflow.EventReport, workflow.EventError:
			// Rendered from the terminal result below.
		}
	})
	if err != nil {
		// The parent still expects the cumulative totals on failure.
		if stats, statsErr := app.store.GetCumulativeStats(ctx, store.StatsFilter{
			Brand:     f.tenant,
			Purchaser: f.purchaser,
		}); statsErr == nil {
			pipe.CumulativeMetrics(stats)
		}

		return err
	}

	if f.resume {
		pipe.ResumeSkip(result.AlreadyDone, result.Total)
	}

	if caseID != workflow.CaseSync && caseID != workflow.CaseP1 {
		pipe.CumulativeMetrics(result.Cumulative)
	}

	return renderResult(result)
}

// renderResult prints the terminal summary: JSON metrics with --json,
// a short human summary otherwise.
func renderResult(result *workflow.Result) error {
	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(result.Metrics)
	}

	statusf("Synced %d, skipped %d, extracted %d, failed %d\n",
		result.Synced, result.Skipped, result.Extracted, result.Failed)

	if m := result.Metrics; m != nil && m.Processed > 0 {
		statusf("Latency avg %.0fms p95 %dms, error rate %.1f%%\n",
			m.AvgLatencyMS, m.P95LatencyMS, m.ErrorRate*100)
	}

	if result.Failed > 0 {
		return fmt.Errorf("%d file(s) failed extraction", result.Failed)
	}

	return nil
}
