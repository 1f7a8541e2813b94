package store

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
)

const (
	sqlAppendSyncHistory = `INSERT INTO tbl_sync_history
		(timestamp, synced, skipped, errors, message, brands, purchasers)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	sqlListSyncHistory = `SELECT id, timestamp, synced, skipped, errors,
		message, brands, purchasers
		FROM tbl_sync_history ORDER BY timestamp ASC`

	sqlAppendExtractionLog = `INSERT INTO tbl_extraction_logs
		(id, run_id, timestamp, level, data) VALUES (?, ?, ?, ?, ?)`

	sqlAppendEmailLog = `INSERT INTO tbl_email_logs
		(id, timestamp, recipient, subject, status, data)
		VALUES (?, ?, ?, ?, ?, ?)`

	sqlAppendScheduleLog = `INSERT INTO tbl_schedule_logs
		(timestamp, schedule_id, action, detail) VALUES (?, ?, ?, ?)`

	sqlListCronSchedules = `SELECT id, expression, case_id, enabled,
		created_at, updated_at
		FROM tbl_cron_schedules ORDER BY id`
)

func (s *Store) prepareHistoryStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.historyStmts.append, sqlAppendSyncHistory, "appendSyncHistory"},
		{&s.historyStmts.list, sqlListSyncHistory, "listSyncHistory"},
	})
}

func (s *Store) prepareLogStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.logStmts.extraction, sqlAppendExtractionLog, "appendExtractionLog"},
		{&s.logStmts.email, sqlAppendEmailLog, "appendEmailLog"},
		{&s.logStmts.schedule, sqlAppendScheduleLog, "appendScheduleLog"},
		{&s.logStmts.cronList, sqlListCronSchedules, "listCronSchedules"},
	})
}

// AppendSyncHistory records one sync batch. Brands and purchasers are
// stored as JSON arrays, matching the external read contract.
func (s *Store) AppendSyncHistory(ctx context.Context, e SyncHistoryEntry) error {
	brands, err := json.Marshal(emptyIfNil(e.Brands))
	if err != nil {
		return storeErr("encode history brands", err)
	}

	purchasers, err := json.Marshal(emptyIfNil(e.Purchasers))
	if err != nil {
		return storeErr("encode history purchasers", err)
	}

	ts := e.Timestamp
	if ts == 0 {
		ts = nowMilli()
	}

	_, err = s.historyStmts.append.ExecContext(ctx,
		ts, e.Synced, e.Skipped, e.Errors, e.Message,
		string(brands), string(purchasers),
	)
	if err != nil {
		return storeErr("append sync history", err)
	}

	s.logger.Debug("sync history appended",
		slog.Int("synced", e.Synced),
		slog.Int("skipped", e.Skipped),
		slog.Int("errors", e.Errors),
	)

	return nil
}

// GetSyncHistory returns all sync batches ordered by timestamp ascending.
// An empty table yields an empty slice, never an error.
func (s *Store) GetSyncHistory(ctx context.Context) ([]SyncHistoryEntry, error) {
	rows, err := s.historyStmts.list.QueryContext(ctx)
	if err != nil {
		return nil, storeErr("list sync history", err)
	}
	defer rows.Close()

	entries := []SyncHistoryEntry{}

	for rows.Next() {
		var (
			e                  SyncHistoryEntry
			brands, purchasers string
		)

		err := rows.Scan(&e.ID, &e.Timestamp, &e.Synced, &e.Skipped, &e.Errors,
			&e.Message, &brands, &purchasers)
		if err != nil {
			return nil, storeErr("scan history row", err)
		}

		if err := json.Unmarshal([]byte(brands), &e.Brands); err != nil {
			return nil, storeErr("decode history brands", err)
		}

		if err := json.Unmarshal([]byte(purchasers), &e.Purchasers); err != nil {
			return nil, storeErr("decode history purchasers", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate history rows", err)
	}

	return entries, nil
}

// AppendExtractionLog writes one structured log row. The id is assigned
// here when the entry carries none.
func (s *Store) AppendExtractionLog(ctx context.Context, e ExtractionLogEntry) error {
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}

	ts := e.Timestamp
	if ts == 0 {
		ts = nowMilli()
	}

	level := e.Level
	if level == "" {
		level = "info"
	}

	_, err := s.logStmts.extraction.ExecContext(ctx, id, e.RunID, ts, level, e.Data)
	if err != nil {
		return storeErr("append extraction log", err)
	}

	return nil
}

// GetExtractionLogs returns the log rows for a run, oldest first.
func (s *Store) GetExtractionLogs(ctx context.Context, runID string) ([]ExtractionLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, timestamp, level, data FROM tbl_extraction_logs
		WHERE run_id = ? ORDER BY timestamp ASC`, runID)
	if err != nil {
		return nil, storeErrf(err, "list extraction logs %s", runID)
	}
	defer rows.Close()

	entries := []ExtractionLogEntry{}

	for rows.Next() {
		var e ExtractionLogEntry

		if err := rows.Scan(&e.ID, &e.RunID, &e.Timestamp, &e.Level, &e.Data); err != nil {
			return nil, storeErr("scan extraction log row", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate extraction log rows", err)
	}

	return entries, nil
}

// AppendEmailLog writes one notification email record for the admin
// surface. The core does not interpret these rows.
func (s *Store) AppendEmailLog(ctx context.Context, e EmailLogEntry) error {
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}

	ts := e.Timestamp
	if ts == 0 {
		ts = nowMilli()
	}

	_, err := s.logStmts.email.ExecContext(ctx, id, ts, e.Recipient, e.Subject, e.Status, e.Data)
	if err != nil {
		return storeErr("append email log", err)
	}

	return nil
}

// AppendScheduleLog writes one scheduler audit record for the admin
// surface.
func (s *Store) AppendScheduleLog(ctx context.Context, e ScheduleLogEntry) error {
	ts := e.Timestamp
	if ts == 0 {
		ts = nowMilli()
	}

	_, err := s.logStmts.schedule.ExecContext(ctx, ts, e.ScheduleID, e.Action, e.Detail)
	if err != nil {
		return storeErr("append schedule log", err)
	}

	return nil
}

// ListCronSchedules returns all stored schedule definitions. The core
// only passes these through; the scheduler lives outside the process core.
func (s *Store) ListCronSchedules(ctx context.Context) ([]CronSchedule, error) {
	rows, err := s.logStmts.cronList.QueryContext(ctx)
	if err != nil {
		return nil, storeErr("list cron schedules", err)
	}
	defer rows.Close()

	schedules := []CronSchedule{}

	for rows.Next() {
		var (
			c       CronSchedule
			enabled int
		)

		err := rows.Scan(&c.ID, &c.Expression, &c.CaseID, &enabled, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, storeErr("scan cron schedule row", err)
		}

		c.Enabled = enabled == 1
		schedules = append(schedules, c)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate cron schedule rows", err)
	}

	return schedules, nil
}

// emptyIfNil keeps JSON arrays as [] instead of null.
func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}

	return ss
}
