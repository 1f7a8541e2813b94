// Package workflow coordinates the pipeline: it assigns run identity,
// drives the sync and extraction stages for the requested case, persists
// the run summary, and streams progress events to the caller. At most
// one run per case id is active at a time.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/entelliextract/intelliextract/internal/extractor"
	"github.com/entelliextract/intelliextract/internal/metrics"
	"github.com/entelliextract/intelliextract/internal/store"
	"github.com/entelliextract/intelliextract/internal/syncer"
)

// Case identifiers. P1 and P2 are the scheduler's aliases for the sync
// and extract phases of a split pipeline.
const (
	CasePipe    = "PIPE"
	CaseSync    = "SYNC"
	CaseExtract = "EXTRACT"
	CaseP1      = "P1"
	CaseP2      = "P2"
)

// runIDPrefix prefixes every run identifier.
const runIDPrefix = "RUN"

// EventType tags coordinator events.
type EventType string

const (
	EventRunID    EventType = "run_id"
	EventLog      EventType = "log"
	EventProgress EventType = "progress"
	EventReport   EventType = "report"
	EventError    EventType = "error"
)

// Event is one update streamed to the caller during Execute.
type Event struct {
	Type    EventType
	RunID   string
	Message string
	Phase   string
	Done    int
	Total   int
	Metrics *metrics.RunMetrics
	Err     error
}

// UpdateFunc consumes coordinator events. May be nil.
type UpdateFunc func(Event)

// Pair selects one tenant/purchaser slice.
type Pair struct {
	Tenant    string
	Purchaser string
}

// Request describes one workflow execution.
type Request struct {
	CaseID string
	// Pairs selects the slices to operate on. Empty falls back to the
	// single Tenant/Purchaser pair; both empty means all configured
	// buckets.
	Pairs     []Pair
	Tenant    string
	Purchaser string
	// Origin labels who started the run (cli, schedule, admin).
	Origin string
	// Resume cleans up an interrupted download before syncing and skips
	// files completed in any previous run.
	Resume bool
	// RetryFailed widens extraction discovery to previously-failed files.
	RetryFailed bool
	// DownloadLimit caps new downloads for this run. 0 means unlimited.
	DownloadLimit     int64
	Concurrency       int
	RequestsPerSecond int
}

// Result is the terminal outcome of one execution.
type Result struct {
	RunID   string
	Metrics *metrics.RunMetrics
	// Synced and Skipped summarise the sync phase; Extracted and Failed
	// the extraction phase.
	Synced    int
	Skipped   int
	Extracted int
	Failed    int
	// Cumulative carries the all-runs stats for the piped-stdout line.
	Cumulative store.CumulativeStats
	// AlreadyDone and Total feed the resume-skip report.
	AlreadyDone int
	Total       int

	syncedFiles []syncer.SyncedFile
}

// Store is the persistence surface the coordinator consumes.
type Store interface {
	StartNewRun(ctx context.Context, prefix, caseID string) (string, error)
	MarkRunCompleted(ctx context.Context, runID string) error
	MarkRunFailed(ctx context.Context, runID string) error
	SaveRunSummary(ctx context.Context, runID, summary string) error
	GetCheckpoints(ctx context.Context, runID string) ([]store.Checkpoint, error)
	GetErrorPaths(ctx context.Context, runID string) (map[string]bool, error)
	ListFiles(ctx context.Context, filter store.StatsFilter) ([]store.FileRecord, error)
	GetCumulativeStats(ctx context.Context, filter store.StatsFilter) (store.CumulativeStats, error)
}

// SyncRunner is the sync stage the coordinator drives.
type SyncRunner interface {
	SyncAll(ctx context.Context, buckets []syncer.Bucket, opts syncer.Options, onProgress syncer.ProgressFunc) (*syncer.RunResult, error)
	CleanupInterrupted(ctx context.Context) error
}

// ExtractRunner is the extraction stage the coordinator drives.
type ExtractRunner interface {
	Run(ctx context.Context, files []extractor.InputFile, opts extractor.Options) (*extractor.Outcome, error)
}

// ReportGenerator renders the external report for a finished run.
// Implemented outside the coordinator; may be absent.
type ReportGenerator interface {
	Generate(ctx context.Context, runID string, m *metrics.RunMetrics) error
}

// Coordinator executes workflow requests.
type Coordinator struct {
	store      Store
	sync       SyncRunner
	extract    ExtractRunner
	reports    ReportGenerator
	runs       *ActiveRuns
	buckets    []syncer.Bucket
	stagingDir string
	logger     *slog.Logger
}

// New creates a coordinator over the configured buckets. reports may be
// nil.
func New(st Store, sync SyncRunner, extract ExtractRunner, reports ReportGenerator,
	buckets []syncer.Bucket, stagingDir string, logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		store:      st,
		sync:       sync,
		extract:    extract,
		reports:    reports,
		runs:       NewActiveRuns(),
		buckets:    buckets,
		stagingDir: stagingDir,
		logger:     logger,
	}
}

// ActiveRuns exposes the in-process run registry.
func (c *Coordinator) ActiveRuns() []ActiveRun {
	return c.runs.Snapshot()
}

// Execute runs the requested case end to end. Progress, the run id, and
// the final report stream through onUpdate; the returned Result repeats
// the terminal state for callers that prefer polling. The run summary is
// persisted best-effort even when the run fails.
func (c *Coordinator) Execute(ctx context.Context, req Request, onUpdate UpdateFunc) (*Result, error) {
	emit := func(evt Event) {
		if onUpdate != nil {
			onUpdate(evt)
		}
	}

	if !validCase(req.CaseID) {
		return nil, fmt.Errorf("workflow: unknown case id %q", req.CaseID)
	}

	runID, err := c.store.StartNewRun(ctx, runIDPrefix, req.CaseID)
	if err != nil {
		return nil, fmt.Errorf("workflow: starting run: %w", err)
	}

	if err := c.runs.Register(req.CaseID, runID, req.Origin); err != nil {
		if markErr := c.store.MarkRunFailed(ctx, runID); markErr != nil {
			c.logger.Warn("marking rejected run failed", slog.String("error", markErr.Error()))
		}

		return nil, err
	}
	defer c.runs.Unregister(req.CaseID)

	emit(Event{Type: EventRunID, RunID: runID})

	c.logger.Info("run starting",
		slog.String("run_id", runID),
		slog.String("case_id", req.CaseID),
		slog.String("origin", req.Origin),
	)

	startedAt := time.Now().UnixMilli()

	result, err := c.runPhases(ctx, runID, req, emit)
	if err != nil {
		c.failRun(ctx, runID, startedAt, emit, err)

		return nil, err
	}

	emit(Event{Type: EventLog, RunID: runID, Message: "Generating report..."})

	if result.Metrics == nil {
		result.Metrics, err = c.computeMetrics(ctx, runID, startedAt)
		if err != nil {
			c.failRun(ctx, runID, startedAt, emit, err)

			return nil, err
		}
	}

	if c.reports != nil {
		if err := c.reports.Generate(ctx, runID, result.Metrics); err != nil {
			c.logger.Warn("report generation failed",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := c.saveSummary(ctx, runID, result.Metrics); err != nil {
		c.failRun(ctx, runID, startedAt, emit, err)

		return nil, err
	}

	if err := c.store.MarkRunCompleted(ctx, runID); err != nil {
		return nil, fmt.Errorf("workflow: completing run %s: %w", runID, err)
	}

	emit(Event{Type: EventReport, RunID: runID, Metrics: result.Metrics})
	emit(Event{Type: EventLog, RunID: runID, Message: "Operation completed successfully."})

	result.RunID = runID

	return result, nil
}

// runPhases dispatches the case to its phase sequence.
func (c *Coordinator) runPhases(ctx context.Context, runID string, req Request, emit UpdateFunc) (*Result, error) {
	switch req.CaseID {
	case CaseSync, CaseP1:
		return c.runSync(ctx, runID, req, emit)
	case CaseExtract, CaseP2:
		return c.runExtract(ctx, runID, req, nil, emit)
	case CasePipe:
		result, err := c.runSync(ctx, runID, req, emit)
		if err != nil {
			return nil, err
		}

		return c.runPipeExtract(ctx, runID, req, result, emit)
	default:
		return nil, fmt.Errorf("workflow: unknown case id %q", req.CaseID)
	}
}

// runSync executes the sync phase over the requested buckets.
func (c *Coordinator) runSync(ctx context.Context, runID string, req Request, emit UpdateFunc) (*Result, error) {
	if req.Resume {
		if err := c.sync.CleanupInterrupted(ctx); err != nil {
			return nil, err
		}
	}

	buckets, err := c.selectBuckets(req)
	if err != nil {
		return nil, err
	}

	alreadyExtracted, err := c.extractedPaths(ctx, req)
	if err != nil {
		return nil, err
	}

	opts := syncer.Options{
		Budget:           syncer.NewBudget(req.DownloadLimit),
		AlreadyExtracted: alreadyExtracted,
	}

	sr, err := c.sync.SyncAll(ctx, buckets, opts, func(done, total int) {
		emit(Event{Type: EventProgress, RunID: runID, Phase: "sync", Done: done, Total: total})
	})
	if err != nil {
		return nil, err
	}

	result := &Result{
		Synced:  sr.Synced,
		Skipped: sr.Skipped,
	}
	result.syncedFiles = sr.Files

	return result, nil
}

// runPipeExtract continues a PIPE run with the extraction phase over the
// freshly synced files, falling back to staging discovery when nothing
// was synced so leftovers still get processed.
func (c *Coordinator) runPipeExtract(ctx context.Context, runID string, req Request, syncResult *Result, emit UpdateFunc) (*Result, error) {
	var files []extractor.InputFile

	for _, f := range syncResult.syncedFiles {
		files = append(files, extractor.InputFile{
			FilePath:     f.FilePath,
			RelativePath: f.RelativePath,
			Brand:        f.Brand,
			Purchaser:    f.Purchaser,
		})
	}

	if len(files) == 0 {
		files = nil
	}

	result, err := c.runExtract(ctx, runID, req, files, emit)
	if err != nil {
		return nil, err
	}

	result.Synced = syncResult.Synced
	result.Skipped += syncResult.Skipped

	return result, nil
}

// runExtract executes the extraction phase. files == nil triggers
// staging-walk discovery.
func (c *Coordinator) runExtract(ctx context.Context, runID string, req Request, files []extractor.InputFile, emit UpdateFunc) (*Result, error) {
	if files == nil {
		pairs, err := c.selectPairs(req)
		if err != nil {
			return nil, err
		}

		files, err = c.discoverFiles(ctx, pairs, req.RetryFailed, req.Resume)
		if err != nil {
			return nil, err
		}
	}

	filter := store.StatsFilter{Brand: req.Tenant, Purchaser: req.Purchaser}

	outcome, err := c.extract.Run(ctx, files, extractor.Options{
		RunID:             runID,
		Concurrency:       req.Concurrency,
		RequestsPerSecond: req.RequestsPerSecond,
		SkipCompleted:     req.Resume,
		Filter:            filter,
		OnProgress: func(done, total int) {
			emit(Event{Type: EventProgress, RunID: runID, Phase: "extract", Done: done, Total: total})
		},
	})
	if err != nil {
		return nil, err
	}

	// An abort is fatal to the run: most of the batch never reached the
	// API, so the run must end in error state rather than report success.
	if outcome.Aborted {
		return nil, fmt.Errorf("workflow: run %s: %w", runID, extractor.ErrAborted)
	}

	return &Result{
		Metrics:     outcome.Metrics,
		Skipped:     outcome.Skipped,
		Extracted:   outcome.Done,
		Failed:      len(outcome.Failures),
		Cumulative:  outcome.Cumulative,
		AlreadyDone: outcome.Skipped,
		Total:       outcome.Skipped + outcome.Done,
	}, nil
}

// selectBuckets resolves the request's pairs against the configured
// bucket list.
func (c *Coordinator) selectBuckets(req Request) ([]syncer.Bucket, error) {
	pairs, err := c.selectPairs(req)
	if err != nil {
		return nil, err
	}

	byPair := make(map[Pair]syncer.Bucket, len(c.buckets))
	for _, b := range c.buckets {
		byPair[Pair{Tenant: b.Tenant, Purchaser: b.Purchaser}] = b
	}

	out := make([]syncer.Bucket, 0, len(pairs))

	for _, p := range pairs {
		b, ok := byPair[p]
		if !ok {
			return nil, fmt.Errorf("workflow: no bucket configured for %s/%s", p.Tenant, p.Purchaser)
		}

		out = append(out, b)
	}

	return out, nil
}

// selectPairs resolves the request's target slices: explicit pairs, the
// single tenant/purchaser pair, or every configured bucket.
func (c *Coordinator) selectPairs(req Request) ([]Pair, error) {
	if len(req.Pairs) > 0 {
		return req.Pairs, nil
	}

	if req.Tenant != "" && req.Purchaser != "" {
		return []Pair{{Tenant: req.Tenant, Purchaser: req.Purchaser}}, nil
	}

	if req.Tenant != "" || req.Purchaser != "" {
		return nil, fmt.Errorf("workflow: tenant and purchaser must be given together")
	}

	pairs := make([]Pair, 0, len(c.buckets))
	for _, b := range c.buckets {
		pairs = append(pairs, Pair{Tenant: b.Tenant, Purchaser: b.Purchaser})
	}

	if len(pairs) == 0 {
		return nil, fmt.Errorf("workflow: no buckets configured")
	}

	return pairs, nil
}

// extractedPaths collects staging-relative paths with a terminal
// extraction outcome, so re-syncs skip them without hashing.
func (c *Coordinator) extractedPaths(ctx context.Context, req Request) (map[string]bool, error) {
	records, err := c.store.ListFiles(ctx, store.StatsFilter{Brand: req.Tenant, Purchaser: req.Purchaser})
	if err != nil {
		return nil, fmt.Errorf("workflow: listing extracted files: %w", err)
	}

	out := make(map[string]bool)

	for _, r := range records {
		if r.LatestStatus == store.StatusDone || r.LatestStatus == store.StatusSkipped {
			rel, relErr := relativeToStaging(c.stagingDir, r.FullPath)
			if relErr != nil {
				continue
			}

			out[rel] = true
		}
	}

	return out, nil
}

// computeMetrics summarises a run from its checkpoints. Used for cases
// whose phases produced no metrics of their own.
func (c *Coordinator) computeMetrics(ctx context.Context, runID string, startedAt int64) (*metrics.RunMetrics, error) {
	records, err := c.store.GetCheckpoints(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("workflow: reading checkpoints for %s: %w", runID, err)
	}

	return metrics.Compute(runID, records, startedAt, time.Now().UnixMilli()), nil
}

// saveSummary persists the metrics JSON on the run row.
func (c *Coordinator) saveSummary(ctx context.Context, runID string, m *metrics.RunMetrics) error {
	summary, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("workflow: encoding run summary: %w", err)
	}

	if err := c.store.SaveRunSummary(ctx, runID, string(summary)); err != nil {
		return fmt.Errorf("workflow: saving run summary: %w", err)
	}

	return nil
}

// failRun records the failure, writes a best-effort summary, and emits
// the error events.
func (c *Coordinator) failRun(ctx context.Context, runID string, startedAt int64, emit UpdateFunc, cause error) {
	c.logger.Error("run failed",
		slog.String("run_id", runID),
		slog.String("error", cause.Error()),
	)

	if m, err := c.computeMetrics(ctx, runID, startedAt); err == nil {
		if saveErr := c.saveSummary(ctx, runID, m); saveErr != nil {
			c.logger.Warn("saving failure summary", slog.String("error", saveErr.Error()))
		}
	}

	if err := c.store.MarkRunFailed(ctx, runID); err != nil {
		c.logger.Warn("marking run failed", slog.String("error", err.Error()))
	}

	emit(Event{Type: EventLog, RunID: runID, Message: "Operation failed: " + cause.Error()})
	emit(Event{Type: EventError, RunID: runID, Err: cause})
}

// relativeToStaging converts a registry full path back to its
// staging-relative slash form.
func relativeToStaging(stagingDir, fullPath string) (string, error) {
	rel, err := filepath.Rel(stagingDir, fullPath)
	if err != nil {
		return "", err
	}

	return filepath.ToSlash(rel), nil
}

// validCase reports whether the case id is one the coordinator handles.
func validCase(caseID string) bool {
	switch caseID {
	case CasePipe, CaseSync, CaseExtract, CaseP1, CaseP2:
		return true
	}

	return false
}
