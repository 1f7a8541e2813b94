package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Registry queries. The upsert preserves an existing sha256 when the input
// omits it, and never touches status/run_id — those belong to the
// extraction engine via UpdateFileStatus.
const (
	sqlRegistryColumns = `id, full_path, brand, purchaser, size, etag, sha256,
		status, run_id, updated_at`

	sqlUpsertFile = `INSERT INTO tbl_file_registry
		(id, full_path, brand, purchaser, size, etag, sha256, status, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?)
		ON CONFLICT(id) DO UPDATE SET
			full_path  = excluded.full_path,
			brand      = excluded.brand,
			purchaser  = excluded.purchaser,
			size       = excluded.size,
			etag       = excluded.etag,
			sha256     = CASE WHEN excluded.sha256 = ''
				THEN tbl_file_registry.sha256 ELSE excluded.sha256 END,
			updated_at = excluded.updated_at`

	sqlGetFile = `SELECT ` + sqlRegistryColumns +
		` FROM tbl_file_registry WHERE id = ?`

	sqlUpdateFileStatus = `UPDATE tbl_file_registry
		SET status = ?, run_id = ?, updated_at = ?
		WHERE id = ?`

	sqlUpdateFileStatusByPath = `UPDATE tbl_file_registry
		SET status = ?, run_id = ?, updated_at = ?
		WHERE full_path = ?`
)

func (s *Store) prepareRegistryStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.registryStmts.upsert, sqlUpsertFile, "upsertFile"},
		{&s.registryStmts.get, sqlGetFile, "getFile"},
		{&s.registryStmts.updateStatus, sqlUpdateFileStatus, "updateFileStatus"},
		{&s.registryStmts.updateStatusByPath, sqlUpdateFileStatusByPath, "updateFileStatusByPath"},
	})
}

// RegisterFiles upserts a batch of registry rows in a single transaction.
// Idempotent: re-registering an unchanged file is a no-op apart from
// updated_at. An empty input SHA256 preserves the stored hash.
func (s *Store) RegisterFiles(ctx context.Context, files []FileRecord) error {
	if len(files) == 0 {
		return nil
	}

	s.logger.Debug("registering files", slog.Int("count", len(files)))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin register tx", err)
	}

	stmt := tx.StmtContext(ctx, s.registryStmts.upsert)
	now := nowMilli()

	for i := range files {
		f := &files[i]
		if _, execErr := stmt.ExecContext(ctx,
			f.ID, f.FullPath, f.Brand, f.Purchaser,
			f.Size, f.ETag, f.SHA256, now,
		); execErr != nil {
			rollbackErr := tx.Rollback()
			return storeErrf(execErr, "register file %d (%s, rollback: %v)", i, f.ID, rollbackErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit register tx", err)
	}

	return nil
}

// GetFile retrieves a single registry row by id. Returns (nil, nil) when
// the file has never been registered.
func (s *Store) GetFile(ctx context.Context, id string) (*FileRecord, error) {
	f := &FileRecord{}

	err := s.registryStmts.get.QueryRowContext(ctx, id).Scan(
		&f.ID, &f.FullPath, &f.Brand, &f.Purchaser,
		&f.Size, &f.ETag, &f.SHA256,
		&f.LatestStatus, &f.LatestRunID, &f.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil record means "not registered"
	}

	if err != nil {
		return nil, storeErrf(err, "get file %s", id)
	}

	return f, nil
}

// UpdateFileStatus sets the latest extraction status and run id for a file.
func (s *Store) UpdateFileStatus(ctx context.Context, id, status, runID string) error {
	if _, err := s.registryStmts.updateStatus.ExecContext(ctx, status, runID, nowMilli(), id); err != nil {
		return storeErrf(err, "update file status %s", id)
	}

	return nil
}

// UpdateFileStatusByPath is UpdateFileStatus keyed by the local path. The
// extraction engine knows files by path, not registry id. Updating a path
// with no registry row is a no-op.
func (s *Store) UpdateFileStatusByPath(ctx context.Context, fullPath, status, runID string) error {
	if _, err := s.registryStmts.updateStatusByPath.ExecContext(ctx, status, runID, nowMilli(), fullPath); err != nil {
		return storeErrf(err, "update file status by path %s", fullPath)
	}

	return nil
}

// ListFiles returns registry rows matching the filter, ordered by full path.
func (s *Store) ListFiles(ctx context.Context, filter StatsFilter) ([]FileRecord, error) {
	query, args := registryFilterQuery("", filter)

	return s.queryFiles(ctx, query, args)
}

// GetFailedFiles returns registry rows whose latest extraction status is
// "error", matching the filter. Used for --retry-failed selection.
func (s *Store) GetFailedFiles(ctx context.Context, filter StatsFilter) ([]FileRecord, error) {
	query, args := registryFilterQuery(StatusError, filter)

	return s.queryFiles(ctx, query, args)
}

// registryFilterQuery builds a filtered registry SELECT. status and filter
// fields are optional.
func registryFilterQuery(status string, filter StatsFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}

	if filter.Brand != "" {
		conds = append(conds, "brand = ?")
		args = append(args, filter.Brand)
	}

	if filter.Purchaser != "" {
		conds = append(conds, "purchaser = ?")
		args = append(args, filter.Purchaser)
	}

	query := `SELECT ` + sqlRegistryColumns + ` FROM tbl_file_registry`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	query += " ORDER BY full_path"

	return query, args
}

func (s *Store) queryFiles(ctx context.Context, query string, args []any) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query files", err)
	}
	defer rows.Close()

	var files []FileRecord

	for rows.Next() {
		var f FileRecord

		err := rows.Scan(
			&f.ID, &f.FullPath, &f.Brand, &f.Purchaser,
			&f.Size, &f.ETag, &f.SHA256,
			&f.LatestStatus, &f.LatestRunID, &f.UpdatedAt,
		)
		if err != nil {
			return nil, storeErr("scan file row", err)
		}

		files = append(files, f)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate file rows", err)
	}

	return files, nil
}

// GetCumulativeStats counts terminal checkpoint outcomes across all runs,
// optionally narrowed by brand/purchaser.
func (s *Store) GetCumulativeStats(ctx context.Context, filter StatsFilter) (CumulativeStats, error) {
	var (
		conds = []string{"status IN (?, ?, ?)"}
		args  = []any{StatusDone, StatusError, StatusSkipped}
	)

	if filter.Brand != "" {
		conds = append(conds, "brand = ?")
		args = append(args, filter.Brand)
	}

	if filter.Purchaser != "" {
		conds = append(conds, "purchaser = ?")
		args = append(args, filter.Purchaser)
	}

	query := fmt.Sprintf(`SELECT
			COUNT(CASE WHEN status = '%s' THEN 1 END),
			COUNT(CASE WHEN status = '%s' THEN 1 END),
			COUNT(*)
		FROM tbl_checkpoints WHERE `, StatusDone, StatusError) +
		strings.Join(conds, " AND ")

	var stats CumulativeStats

	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Success, &stats.Failed, &stats.Total,
	)
	if err != nil {
		return CumulativeStats{}, storeErr("cumulative stats", err)
	}

	return stats, nil
}
