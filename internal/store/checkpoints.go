package store

import (
	"context"
	"database/sql"
	"log/slog"
)

// Checkpoint queries. Last write wins on the (run_id, relative_path) key.
const (
	sqlCheckpointColumns = `run_id, relative_path, file_path, brand, purchaser,
		status, started_at, finished_at, latency_ms, status_code,
		error_message, pattern_key, full_response`

	sqlUpsertCheckpoint = `INSERT INTO tbl_checkpoints (` + sqlCheckpointColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, relative_path) DO UPDATE SET
			file_path     = excluded.file_path,
			brand         = excluded.brand,
			purchaser     = excluded.purchaser,
			status        = excluded.status,
			started_at    = excluded.started_at,
			finished_at   = excluded.finished_at,
			latency_ms    = excluded.latency_ms,
			status_code   = excluded.status_code,
			error_message = excluded.error_message,
			pattern_key   = excluded.pattern_key,
			full_response = excluded.full_response`

	sqlCompletedByRun = `SELECT relative_path FROM tbl_checkpoints
		WHERE run_id = ? AND status = 'done'`

	sqlCompletedAll = `SELECT DISTINCT relative_path FROM tbl_checkpoints
		WHERE status = 'done'`

	sqlProcessedByRun = `SELECT relative_path FROM tbl_checkpoints
		WHERE run_id = ? AND status IN ('done', 'skipped', 'error')`

	sqlProcessedAll = `SELECT DISTINCT relative_path FROM tbl_checkpoints
		WHERE status IN ('done', 'skipped', 'error')`

	sqlErrorsByRun = `SELECT relative_path FROM tbl_checkpoints
		WHERE run_id = ? AND status = 'error'`

	sqlErrorsAll = `SELECT DISTINCT relative_path FROM tbl_checkpoints
		WHERE status = 'error'`

	sqlCheckpointsByRun = `SELECT ` + sqlCheckpointColumns + `
		FROM tbl_checkpoints WHERE run_id = ? ORDER BY relative_path`
)

func (s *Store) prepareCheckpointStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.checkpointStmts.upsert, sqlUpsertCheckpoint, "upsertCheckpoint"},
		{&s.checkpointStmts.completedByRun, sqlCompletedByRun, "completedByRun"},
		{&s.checkpointStmts.completedAll, sqlCompletedAll, "completedAll"},
		{&s.checkpointStmts.processedByRun, sqlProcessedByRun, "processedByRun"},
		{&s.checkpointStmts.processedAll, sqlProcessedAll, "processedAll"},
		{&s.checkpointStmts.errorsByRun, sqlErrorsByRun, "errorsByRun"},
		{&s.checkpointStmts.errorsAll, sqlErrorsAll, "errorsAll"},
		{&s.checkpointStmts.listByRun, sqlCheckpointsByRun, "checkpointsByRun"},
	})
}

// checkpointArgs returns the argument slice for the upsert statement.
func checkpointArgs(c *Checkpoint) []any {
	return []any{
		c.RunID, c.RelativePath, c.FilePath, c.Brand, c.Purchaser,
		c.Status, c.StartedAt, c.FinishedAt, c.LatencyMS, c.StatusCode,
		c.ErrorMessage, c.PatternKey, c.FullResponse,
	}
}

// UpsertCheckpoint writes a single checkpoint. Last write wins.
func (s *Store) UpsertCheckpoint(ctx context.Context, c *Checkpoint) error {
	s.logger.Debug("upserting checkpoint",
		slog.String("run_id", c.RunID),
		slog.String("path", c.RelativePath),
		slog.String("status", c.Status),
	)

	if _, err := s.checkpointStmts.upsert.ExecContext(ctx, checkpointArgs(c)...); err != nil {
		return storeErrf(err, "upsert checkpoint %s/%s", c.RunID, c.RelativePath)
	}

	return nil
}

// UpsertCheckpoints writes a batch of checkpoints atomically in a single
// transaction. Used for the bulk "skipped" writes at engine start.
func (s *Store) UpsertCheckpoints(ctx context.Context, cs []Checkpoint) error {
	if len(cs) == 0 {
		return nil
	}

	s.logger.Debug("batch upserting checkpoints", slog.Int("count", len(cs)))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin checkpoint batch tx", err)
	}

	stmt := tx.StmtContext(ctx, s.checkpointStmts.upsert)

	for i := range cs {
		if _, execErr := stmt.ExecContext(ctx, checkpointArgs(&cs[i])...); execErr != nil {
			rollbackErr := tx.Rollback()
			return storeErrf(execErr, "batch checkpoint %d (%s, rollback: %v)",
				i, cs[i].RelativePath, rollbackErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit checkpoint batch", err)
	}

	return nil
}

// GetCompletedPaths returns the set of relative paths with a "done"
// checkpoint. With an empty runID the set spans all runs.
func (s *Store) GetCompletedPaths(ctx context.Context, runID string) (map[string]bool, error) {
	if runID == "" {
		return s.queryPathSet(ctx, s.checkpointStmts.completedAll)
	}

	return s.queryPathSet(ctx, s.checkpointStmts.completedByRun, runID)
}

// GetProcessedPaths is GetCompletedPaths widened to include "skipped" and
// "error" outcomes.
func (s *Store) GetProcessedPaths(ctx context.Context, runID string) (map[string]bool, error) {
	if runID == "" {
		return s.queryPathSet(ctx, s.checkpointStmts.processedAll)
	}

	return s.queryPathSet(ctx, s.checkpointStmts.processedByRun, runID)
}

// GetErrorPaths returns the relative paths whose checkpoint ended in
// "error". With an empty runID the set spans all runs. Used for retry
// and resume selection.
func (s *Store) GetErrorPaths(ctx context.Context, runID string) (map[string]bool, error) {
	if runID == "" {
		return s.queryPathSet(ctx, s.checkpointStmts.errorsAll)
	}

	return s.queryPathSet(ctx, s.checkpointStmts.errorsByRun, runID)
}

func (s *Store) queryPathSet(ctx context.Context, stmt *sql.Stmt, args ...any) (map[string]bool, error) {
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, storeErr("query path set", err)
	}
	defer rows.Close()

	paths := make(map[string]bool)

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, storeErr("scan path row", err)
		}

		paths[p] = true
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate path rows", err)
	}

	return paths, nil
}

// GetCheckpoints returns all checkpoints for a run, ordered by path.
func (s *Store) GetCheckpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	rows, err := s.checkpointStmts.listByRun.QueryContext(ctx, runID)
	if err != nil {
		return nil, storeErrf(err, "list checkpoints %s", runID)
	}
	defer rows.Close()

	var cs []Checkpoint

	for rows.Next() {
		var c Checkpoint

		err := rows.Scan(
			&c.RunID, &c.RelativePath, &c.FilePath, &c.Brand, &c.Purchaser,
			&c.Status, &c.StartedAt, &c.FinishedAt, &c.LatencyMS, &c.StatusCode,
			&c.ErrorMessage, &c.PatternKey, &c.FullResponse,
		)
		if err != nil {
			return nil, storeErr("scan checkpoint row", err)
		}

		cs = append(cs, c)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate checkpoint rows", err)
	}

	return cs, nil
}
