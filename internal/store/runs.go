package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"
)

// Run queries.
const (
	sqlInsertRun = `INSERT INTO tbl_runs (run_id, started_at, status, case_id)
		VALUES (?, ?, 'running', ?)`

	sqlFinishRun = `UPDATE tbl_runs
		SET status = ?, finished_at = ?
		WHERE run_id = ?`

	sqlCurrentRun = `SELECT run_id FROM tbl_runs
		WHERE status = 'running' ORDER BY started_at DESC LIMIT 1`

	sqlLastCompletedRun = `SELECT run_id FROM tbl_runs
		WHERE status = 'done' ORDER BY finished_at DESC LIMIT 1`

	sqlGetRun = `SELECT run_id, started_at, finished_at, status, case_id, summary
		FROM tbl_runs WHERE run_id = ?`

	sqlSaveRunSummary = `UPDATE tbl_runs SET summary = ? WHERE run_id = ?`

	sqlGetRunSummary = `SELECT summary FROM tbl_runs WHERE run_id = ?`
)

func (s *Store) prepareRunStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.runStmts.insert, sqlInsertRun, "insertRun"},
		{&s.runStmts.finish, sqlFinishRun, "finishRun"},
		{&s.runStmts.current, sqlCurrentRun, "currentRun"},
		{&s.runStmts.lastCompleted, sqlLastCompletedRun, "lastCompletedRun"},
		{&s.runStmts.get, sqlGetRun, "getRun"},
		{&s.runStmts.saveSummary, sqlSaveRunSummary, "saveRunSummary"},
		{&s.runStmts.getSummary, sqlGetRunSummary, "getRunSummary"},
	})
}

// maxRunIDAttempts bounds the retry loop when two runs start within the
// same millisecond.
const maxRunIDAttempts = 5

// StartNewRun allocates a monotonic run id (RUN-<epoch-ms>, or the given
// prefix) and inserts a running row. Collisions within the same
// millisecond retry with a short sleep.
func (s *Store) StartNewRun(ctx context.Context, prefix, caseID string) (string, error) {
	var lastErr error

	for range maxRunIDAttempts {
		runID := NewRunID(prefix)

		_, err := s.runStmts.insert.ExecContext(ctx, runID, nowMilli(), caseID)
		if err == nil {
			s.logger.Info("run started",
				slog.String("run_id", runID), slog.String("case_id", caseID))

			return runID, nil
		}

		lastErr = err

		time.Sleep(time.Millisecond)
	}

	return "", storeErr("start new run", lastErr)
}

// MarkRunCompleted transitions a run to "done" and stamps finished_at.
func (s *Store) MarkRunCompleted(ctx context.Context, runID string) error {
	return s.finishRun(ctx, runID, RunStatusDone)
}

// MarkRunFailed transitions a run to "error" and stamps finished_at.
func (s *Store) MarkRunFailed(ctx context.Context, runID string) error {
	return s.finishRun(ctx, runID, RunStatusError)
}

func (s *Store) finishRun(ctx context.Context, runID, status string) error {
	s.logger.Info("run finished",
		slog.String("run_id", runID), slog.String("status", status))

	if _, err := s.runStmts.finish.ExecContext(ctx, status, nowMilli(), runID); err != nil {
		return storeErrf(err, "finish run %s", runID)
	}

	return nil
}

// GetCurrentRunID returns the latest non-terminal run id, or "" when no
// run is in flight.
func (s *Store) GetCurrentRunID(ctx context.Context) (string, error) {
	return s.queryRunID(ctx, s.runStmts.current, "current run")
}

// GetLastCompletedRunID returns the most recently completed run id, or "".
func (s *Store) GetLastCompletedRunID(ctx context.Context) (string, error) {
	return s.queryRunID(ctx, s.runStmts.lastCompleted, "last completed run")
}

func (s *Store) queryRunID(ctx context.Context, stmt *sql.Stmt, op string) (string, error) {
	var runID string

	err := stmt.QueryRowContext(ctx).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", storeErr(op, err)
	}

	return runID, nil
}

// GetRun retrieves a full run record. Returns (nil, nil) for unknown ids.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	r := &Run{}

	err := s.runStmts.get.QueryRowContext(ctx, runID).Scan(
		&r.RunID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.CaseID, &r.Summary,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil run means "not found"
	}

	if err != nil {
		return nil, storeErrf(err, "get run %s", runID)
	}

	return r, nil
}

// GetAllRunsOrdered returns runs newest-first. limit <= 0 means no limit.
func (s *Store) GetAllRunsOrdered(ctx context.Context, limit, offset int) ([]Run, error) {
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT disables the cap.
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, started_at, finished_at, status, case_id, summary
		FROM tbl_runs ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, storeErr("list runs", err)
	}
	defer rows.Close()

	var runs []Run

	for rows.Next() {
		var r Run

		err := rows.Scan(&r.RunID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.CaseID, &r.Summary)
		if err != nil {
			return nil, storeErr("scan run row", err)
		}

		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate run rows", err)
	}

	return runs, nil
}

// GetAllRunIDsOrdered returns run ids newest-first.
func (s *Store) GetAllRunIDsOrdered(ctx context.Context, limit, offset int) ([]string, error) {
	runs, err := s.GetAllRunsOrdered(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(runs))
	for i := range runs {
		ids[i] = runs[i].RunID
	}

	return ids, nil
}

// SaveRunSummary stores the computed metrics JSON on a run row.
func (s *Store) SaveRunSummary(ctx context.Context, runID, summary string) error {
	if _, err := s.runStmts.saveSummary.ExecContext(ctx, summary, runID); err != nil {
		return storeErrf(err, "save run summary %s", runID)
	}

	return nil
}

// GetRunSummary returns the stored metrics JSON for a run, or "" when the
// run has no summary yet.
func (s *Store) GetRunSummary(ctx context.Context, runID string) (string, error) {
	var summary string

	err := s.runStmts.getSummary.QueryRowContext(ctx, runID).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", storeErrf(err, "get run summary %s", runID)
	}

	return summary, nil
}
