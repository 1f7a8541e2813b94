package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	runID, err := s.StartNewRun(ctx, "RUN", "PIPE")
	require.NoError(t, err)

	if !strings.HasPrefix(runID, "RUN-") {
		t.Errorf("run id = %q, want RUN-<ms>", runID)
	}

	current, err := s.GetCurrentRunID(ctx)
	require.NoError(t, err)

	if current != runID {
		t.Errorf("current = %q, want %q", current, runID)
	}

	require.NoError(t, s.MarkRunCompleted(ctx, runID))

	current, err = s.GetCurrentRunID(ctx)
	require.NoError(t, err)

	if current != "" {
		t.Errorf("current after completion = %q, want empty", current)
	}

	last, err := s.GetLastCompletedRunID(ctx)
	require.NoError(t, err)

	if last != runID {
		t.Errorf("last completed = %q, want %q", last, runID)
	}

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, run)

	if run.Status != RunStatusDone || run.CaseID != "PIPE" {
		t.Errorf("run = %+v", run)
	}

	if run.FinishedAt < run.StartedAt {
		t.Errorf("finishedAt %d < startedAt %d", run.FinishedAt, run.StartedAt)
	}
}

func TestStartNewRun_UniqueIDs(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	// Back-to-back starts land in the same millisecond; the collision
	// retry must still hand out distinct ids.
	seen := map[string]bool{}

	for range 3 {
		runID, err := s.StartNewRun(ctx, "RUN", "SYNC")
		require.NoError(t, err)

		if seen[runID] {
			t.Fatalf("duplicate run id %q", runID)
		}

		seen[runID] = true
	}
}

func TestMarkRunFailed(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	runID, err := s.StartNewRun(ctx, "RUN", "EXTRACT")
	require.NoError(t, err)
	require.NoError(t, s.MarkRunFailed(ctx, runID))

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, run)

	if run.Status != RunStatusError {
		t.Errorf("status = %q, want error", run.Status)
	}

	// A failed run is not "last completed".
	last, err := s.GetLastCompletedRunID(ctx)
	require.NoError(t, err)

	if last != "" {
		t.Errorf("last completed = %q, want empty", last)
	}
}

func TestGetRun_Unknown(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	run, err := s.GetRun(context.Background(), "RUN-nope")
	require.NoError(t, err)

	if run != nil {
		t.Errorf("unknown run = %+v, want nil", run)
	}
}

func TestGetAllRunsOrdered(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	var ids []string

	for range 3 {
		id, err := s.StartNewRun(ctx, "RUN", "SYNC")
		require.NoError(t, err)
		require.NoError(t, s.MarkRunCompleted(ctx, id))

		ids = append(ids, id)
	}

	runs, err := s.GetAllRunsOrdered(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)

	// Newest first.
	if runs[0].RunID != ids[2] {
		t.Errorf("first = %q, want newest %q", runs[0].RunID, ids[2])
	}

	limited, err := s.GetAllRunsOrdered(ctx, 2, 0)
	require.NoError(t, err)

	if len(limited) != 2 {
		t.Errorf("limited = %d rows, want 2", len(limited))
	}

	runIDs, err := s.GetAllRunIDsOrdered(ctx, 0, 0)
	require.NoError(t, err)

	if len(runIDs) != 3 || runIDs[0] != ids[2] {
		t.Errorf("ids = %v", runIDs)
	}
}

func TestRunSummary_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	runID, err := s.StartNewRun(ctx, "RUN", "PIPE")
	require.NoError(t, err)

	summary, err := s.GetRunSummary(ctx, runID)
	require.NoError(t, err)

	if summary != "" {
		t.Errorf("fresh summary = %q, want empty", summary)
	}

	require.NoError(t, s.SaveRunSummary(ctx, runID, `{"success":3}`))

	summary, err = s.GetRunSummary(ctx, runID)
	require.NoError(t, err)

	if summary != `{"success":3}` {
		t.Errorf("summary = %q", summary)
	}
}
