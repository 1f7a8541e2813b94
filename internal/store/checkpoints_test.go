package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpsertCheckpoint_LastWriteWins(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	running := Checkpoint{
		RunID:        "RUN-1",
		RelativePath: "acme/bob/a.xlsx",
		Status:       StatusRunning,
		StartedAt:    100,
		LatencyMS:    -1,
	}
	require.NoError(t, s.UpsertCheckpoint(ctx, &running))

	terminal := running
	terminal.Status = StatusDone
	terminal.FinishedAt = 250
	terminal.LatencyMS = 150
	terminal.StatusCode = 200
	terminal.PatternKey = "invoice-v2"
	require.NoError(t, s.UpsertCheckpoint(ctx, &terminal))

	cps, err := s.GetCheckpoints(ctx, "RUN-1")
	require.NoError(t, err)
	require.Len(t, cps, 1)

	got := cps[0]
	if got.Status != StatusDone || got.LatencyMS != 150 || got.PatternKey != "invoice-v2" {
		t.Errorf("got %+v", got)
	}

	if got.StartedAt > got.FinishedAt {
		t.Errorf("startedAt %d > finishedAt %d", got.StartedAt, got.FinishedAt)
	}
}

func TestUpsertCheckpoints_Batch(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	batch := []Checkpoint{
		{RunID: "RUN-1", RelativePath: "a", Status: StatusSkipped, StartedAt: 1, FinishedAt: 1},
		{RunID: "RUN-1", RelativePath: "b", Status: StatusSkipped, StartedAt: 1, FinishedAt: 1},
		{RunID: "RUN-1", RelativePath: "c", Status: StatusSkipped, StartedAt: 1, FinishedAt: 1},
	}
	require.NoError(t, s.UpsertCheckpoints(ctx, batch))

	cps, err := s.GetCheckpoints(ctx, "RUN-1")
	require.NoError(t, err)

	if len(cps) != 3 {
		t.Fatalf("got %d checkpoints, want 3", len(cps))
	}

	// Empty batch is a no-op, not an error.
	require.NoError(t, s.UpsertCheckpoints(ctx, nil))
}

func TestGetCompletedPaths_RunScoped(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	cps := []Checkpoint{
		{RunID: "RUN-1", RelativePath: "done-1", Status: StatusDone, StartedAt: 1, FinishedAt: 2},
		{RunID: "RUN-1", RelativePath: "err-1", Status: StatusError, StartedAt: 1, FinishedAt: 2},
		{RunID: "RUN-2", RelativePath: "done-2", Status: StatusDone, StartedAt: 3, FinishedAt: 4},
	}
	require.NoError(t, s.UpsertCheckpoints(ctx, cps))

	scoped, err := s.GetCompletedPaths(ctx, "RUN-1")
	require.NoError(t, err)

	if len(scoped) != 1 || !scoped["done-1"] {
		t.Errorf("run-scoped = %v, want {done-1}", scoped)
	}

	global, err := s.GetCompletedPaths(ctx, "")
	require.NoError(t, err)

	if len(global) != 2 || !global["done-1"] || !global["done-2"] {
		t.Errorf("global = %v, want {done-1 done-2}", global)
	}
}

func TestGetProcessedPaths_IncludesSkippedAndError(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	cps := []Checkpoint{
		{RunID: "RUN-1", RelativePath: "done", Status: StatusDone, StartedAt: 1, FinishedAt: 2},
		{RunID: "RUN-1", RelativePath: "skip", Status: StatusSkipped, StartedAt: 1, FinishedAt: 1},
		{RunID: "RUN-1", RelativePath: "err", Status: StatusError, StartedAt: 1, FinishedAt: 2},
		{RunID: "RUN-1", RelativePath: "run", Status: StatusRunning, StartedAt: 1},
	}
	require.NoError(t, s.UpsertCheckpoints(ctx, cps))

	processed, err := s.GetProcessedPaths(ctx, "RUN-1")
	require.NoError(t, err)

	if len(processed) != 3 {
		t.Errorf("processed = %v, want done/skip/err", processed)
	}

	// A running checkpoint is work to redo, never processed.
	if processed["run"] {
		t.Error("running checkpoint counted as processed")
	}
}

func TestGetErrorPaths(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	cps := []Checkpoint{
		{RunID: "RUN-1", RelativePath: "ok", Status: StatusDone, StartedAt: 1, FinishedAt: 2},
		{RunID: "RUN-1", RelativePath: "bad", Status: StatusError, StartedAt: 1, FinishedAt: 2},
		{RunID: "RUN-0", RelativePath: "old-bad", Status: StatusError, StartedAt: 1, FinishedAt: 2},
	}
	require.NoError(t, s.UpsertCheckpoints(ctx, cps))

	errs, err := s.GetErrorPaths(ctx, "RUN-1")
	require.NoError(t, err)

	if len(errs) != 1 || !errs["bad"] {
		t.Errorf("error paths = %v, want {bad}", errs)
	}

	// An empty run id spans every run.
	errs, err = s.GetErrorPaths(ctx, "")
	require.NoError(t, err)

	if len(errs) != 2 || !errs["bad"] || !errs["old-bad"] {
		t.Errorf("all-run error paths = %v, want {bad, old-bad}", errs)
	}
}

func TestGetCheckpoints_EmptyRun(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	cps, err := s.GetCheckpoints(context.Background(), "RUN-none")
	require.NoError(t, err)

	if len(cps) != 0 {
		t.Errorf("got %d checkpoints for unknown run, want 0", len(cps))
	}
}
