package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// File and checkpoint status values. These are contractual: external
// processes read them straight out of the database.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Run lifecycle status values for tbl_runs.status.
const (
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusError   = "error"
)

// FileRecord is the master registry row for a discovered object.
// ID is stable across runs (see FileID); LatestStatus and LatestRunID
// track the most recent extraction outcome for the file.
type FileRecord struct {
	ID           string
	FullPath     string
	Brand        string
	Purchaser    string
	Size         int64
	ETag         string
	SHA256       string
	LatestStatus string
	LatestRunID  string
	UpdatedAt    int64
}

// Checkpoint is the per-file, per-run extraction outcome. The key is
// (RunID, RelativePath); a later run creates a new row for the same path.
type Checkpoint struct {
	RunID        string
	RelativePath string
	FilePath     string
	Brand        string
	Purchaser    string
	Status       string
	StartedAt    int64
	FinishedAt   int64
	LatencyMS    int64
	StatusCode   int
	ErrorMessage string
	PatternKey   string
	FullResponse string
}

// Run is one workflow execution. Summary holds the computed metrics JSON
// once the run completes.
type Run struct {
	RunID      string
	StartedAt  int64
	FinishedAt int64
	Status     string
	CaseID     string
	Summary    string
}

// ManifestEntry is the per-object sync memo. An object is up to date when
// the local file at LocalPath exists, its on-disk SHA-256 equals SHA256,
// and the remote etag equals ETag.
type ManifestEntry struct {
	ETag         string `json:"etag"`
	SHA256       string `json:"sha256"`
	Size         int64  `json:"size"`
	LocalPath    string `json:"localPath"`
	LastSyncedAt int64  `json:"lastSyncedAt"`
}

// Manifest maps "bucket|key" to its sync memo. Persisted as a single JSON
// document in tbl_app_config under the "manifest" key.
type Manifest map[string]ManifestEntry

// ResumeState records an in-flight download so an interrupted sync can
// clean up its partial file on the next --resume invocation.
type ResumeState struct {
	SyncInProgressPath        string `json:"syncInProgressPath,omitempty"`
	SyncInProgressManifestKey string `json:"syncInProgressManifestKey,omitempty"`
}

// Empty reports whether no download is recorded as in flight.
func (r ResumeState) Empty() bool {
	return r.SyncInProgressPath == "" && r.SyncInProgressManifestKey == ""
}

// SyncHistoryEntry is one append-only record per sync batch.
type SyncHistoryEntry struct {
	ID         int64
	Timestamp  int64
	Synced     int
	Skipped    int
	Errors     int
	Message    string
	Brands     []string
	Purchasers []string
}

// ExtractionLogEntry is one structured log row in tbl_extraction_logs.
// Data is an opaque JSON document.
type ExtractionLogEntry struct {
	ID        string
	RunID     string
	Timestamp int64
	Level     string
	Data      string
}

// EmailLogEntry records a notification email for the admin surface.
// The store only writes these; it does not interpret them.
type EmailLogEntry struct {
	ID        string
	Timestamp int64
	Recipient string
	Subject   string
	Status    string
	Data      string
}

// ScheduleLogEntry records a scheduler action for the admin surface.
type ScheduleLogEntry struct {
	ID         int64
	Timestamp  int64
	ScheduleID string
	Action     string
	Detail     string
}

// CronSchedule is a stored schedule definition. The core only reads and
// writes rows; the scheduler itself lives outside this process core.
type CronSchedule struct {
	ID         string
	Expression string
	CaseID     string
	Enabled    bool
	CreatedAt  int64
	UpdatedAt  int64
}

// CumulativeStats aggregates checkpoint outcomes across all runs.
type CumulativeStats struct {
	Success int
	Failed  int
	Total   int
}

// StatsFilter narrows cumulative and failed-file queries. Empty fields
// match everything.
type StatsFilter struct {
	Brand     string
	Purchaser string
}

// FileID derives the stable registry id for an object as the SHA-256 of
// "bucket|key". The same object always maps to the same row.
func FileID(bucket, key string) string {
	sum := sha256.Sum256([]byte(bucket + "|" + key))
	return hex.EncodeToString(sum[:])
}

// NewRunID builds a monotonic run identifier from the current wall clock.
// prefix defaults to "RUN".
func NewRunID(prefix string) string {
	if prefix == "" {
		prefix = "RUN"
	}

	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixMilli())
}

// nowMilli is the single time source for store timestamps.
func nowMilli() int64 {
	return time.Now().UnixMilli()
}
