// Package extractor drives the extraction client over a batch of staged
// files under bounded concurrency and an optional requests-per-second
// ceiling. Every file gets a running checkpoint before its API call and
// exactly one terminal checkpoint after, so an interrupted run can be
// resumed from the store alone.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/entelliextract/intelliextract/internal/extractapi"
	"github.com/entelliextract/intelliextract/internal/metrics"
	"github.com/entelliextract/intelliextract/internal/store"
)

// defaultConcurrency is used when Options.Concurrency is unset or
// non-positive.
const defaultConcurrency = 5

// ErrAborted reports that a run stopped early because the extraction API
// became unreachable. In-flight files keep their terminal checkpoints;
// not-yet-started files keep none, so a resumed run picks them up.
var ErrAborted = errors.New("extraction aborted: API unreachable")

// InputFile identifies one staged file queued for extraction.
type InputFile struct {
	FilePath     string
	RelativePath string
	Brand        string
	Purchaser    string
}

// Failure is one failed extraction, collected for the notification hook.
type Failure struct {
	RelativePath string
	Brand        string
	Purchaser    string
	StatusCode   int
	ErrorMessage string
}

// Outcome is the result of one engine run.
type Outcome struct {
	Done       int
	Skipped    int
	Failures   []Failure
	Aborted    bool
	Metrics    *metrics.RunMetrics
	Cumulative store.CumulativeStats
}

// RecordStore is the persistence surface the engine consumes.
type RecordStore interface {
	GetCompletedPaths(ctx context.Context, runID string) (map[string]bool, error)
	UpsertCheckpoint(ctx context.Context, c *store.Checkpoint) error
	UpsertCheckpoints(ctx context.Context, cs []store.Checkpoint) error
	GetCheckpoints(ctx context.Context, runID string) ([]store.Checkpoint, error)
	UpdateFileStatusByPath(ctx context.Context, fullPath, status, runID string) error
	AppendExtractionLog(ctx context.Context, e store.ExtractionLogEntry) error
	GetCumulativeStats(ctx context.Context, filter store.StatsFilter) (store.CumulativeStats, error)
}

// Notifier receives the consolidated failure report after a run with at
// least one failed file. Implemented outside the engine.
type Notifier interface {
	NotifyFailures(ctx context.Context, runID string, failures []Failure, m *metrics.RunMetrics) error
}

// Options tunes one engine run.
type Options struct {
	RunID string
	// Concurrency bounds in-flight extractions. <= 0 means the default.
	Concurrency int
	// RequestsPerSecond caps the call rate. <= 0 disables rate limiting.
	// Calls are spaced evenly with no startup burst, so no one-second
	// window ever sees more than this many calls.
	RequestsPerSecond int
	// SkipCompleted treats files completed in any previous run as done.
	// When false only the current run's completions are skipped.
	SkipCompleted bool
	// OnProgress receives (done, total) after each finished task. May be
	// nil. done is incremented exactly once per task.
	OnProgress func(done, total int)
	// Filter scopes the cumulative stats attached to the outcome.
	Filter store.StatsFilter
}

// Engine runs extraction batches.
type Engine struct {
	client   extractapi.Extractor
	records  RecordStore
	notifier Notifier
	logger   *slog.Logger
}

// New creates an engine. notifier may be nil.
func New(client extractapi.Extractor, records RecordStore, notifier Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		client:   client,
		records:  records,
		notifier: notifier,
		logger:   logger,
	}
}

// Run processes the batch. Per-file failures are recorded as error
// checkpoints and collected in the outcome; a network abort cancels
// not-yet-started tasks while in-flight ones finish writing their
// terminal checkpoints. The error return is reserved for store failures
// and context cancellation.
func (e *Engine) Run(ctx context.Context, files []InputFile, opts Options) (*Outcome, error) {
	startedAt := time.Now().UnixMilli()

	toProcess, skippedNow, err := e.partition(ctx, files, opts)
	if err != nil {
		return nil, err
	}

	if len(skippedNow) > 0 {
		if err := e.writeSkipped(ctx, opts.RunID, skippedNow); err != nil {
			return nil, err
		}
	}

	outcome := &Outcome{Skipped: len(skippedNow)}

	if len(toProcess) > 0 {
		if err := e.process(ctx, toProcess, opts, outcome); err != nil {
			return nil, err
		}
	}

	return e.finish(ctx, opts, outcome, startedAt)
}

// partition splits the batch into files still needing an API call and
// files whose path already has a done checkpoint. With SkipCompleted the
// lookup spans all runs; otherwise only the current run counts.
func (e *Engine) partition(ctx context.Context, files []InputFile, opts Options) (toProcess, skippedNow []InputFile, err error) {
	lookupRun := opts.RunID
	if opts.SkipCompleted {
		lookupRun = ""
	}

	completed, err := e.records.GetCompletedPaths(ctx, lookupRun)
	if err != nil {
		return nil, nil, fmt.Errorf("extractor: loading completed paths: %w", err)
	}

	for _, f := range files {
		if completed[f.RelativePath] {
			skippedNow = append(skippedNow, f)
		} else {
			toProcess = append(toProcess, f)
		}
	}

	return toProcess, skippedNow, nil
}

// writeSkipped records the already-done files as skipped checkpoints in
// one atomic batch.
func (e *Engine) writeSkipped(ctx context.Context, runID string, files []InputFile) error {
	now := time.Now().UnixMilli()

	cps := make([]store.Checkpoint, 0, len(files))
	for _, f := range files {
		cps = append(cps, store.Checkpoint{
			RunID:        runID,
			RelativePath: f.RelativePath,
			FilePath:     f.FilePath,
			Brand:        f.Brand,
			Purchaser:    f.Purchaser,
			Status:       store.StatusSkipped,
			StartedAt:    now,
			FinishedAt:   now,
			LatencyMS:    -1,
		})
	}

	if err := e.records.UpsertCheckpoints(ctx, cps); err != nil {
		return fmt.Errorf("extractor: recording skipped files: %w", err)
	}

	e.logger.Info("skipped already-completed files", slog.Int("count", len(files)))

	return nil
}

// process drains the batch through the worker pool.
func (e *Engine) process(ctx context.Context, files []InputFile, opts Options, outcome *Outcome) error {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		// Burst 1 spaces grants 1000/rps ms apart. A burst-sized bucket
		// would hand out a full extra interval's worth of calls up front.
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	total := len(files)

	var (
		aborted  atomic.Bool
		done     atomic.Int64
		mu       sync.Mutex
		failures []Failure
	)

	e.logger.Info("extraction batch starting",
		slog.String("run_id", opts.RunID),
		slog.Int("files", total),
		slog.Int("concurrency", concurrency),
		slog.Int("rps", opts.RequestsPerSecond),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, f := range files {
		g.Go(func() error {
			if aborted.Load() {
				return nil
			}

			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
			}

			if aborted.Load() {
				return nil
			}

			failure, networkAbort, err := e.runTask(gctx, opts.RunID, f)
			if err != nil {
				return err
			}

			if failure != nil {
				mu.Lock()
				failures = append(failures, *failure)
				mu.Unlock()
			}

			if networkAbort {
				aborted.Store(true)
			}

			n := done.Add(1)
			if opts.OnProgress != nil {
				opts.OnProgress(int(n), total)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("extractor: batch: %w", err)
	}

	outcome.Done = int(done.Load())
	outcome.Failures = failures
	outcome.Aborted = aborted.Load()

	if outcome.Aborted {
		e.logger.Error("extraction aborted, API unreachable",
			slog.String("run_id", opts.RunID),
			slog.Int("completed", outcome.Done),
			slog.Int("total", total),
		)
	}

	return nil
}

// runTask handles one file: running checkpoint, API call, terminal
// checkpoint, log entry. Returns the failure (nil on success) and
// whether the failure was a network abort.
func (e *Engine) runTask(ctx context.Context, runID string, f InputFile) (*Failure, bool, error) {
	taskStart := time.Now().UnixMilli()

	running := store.Checkpoint{
		RunID:        runID,
		RelativePath: f.RelativePath,
		FilePath:     f.FilePath,
		Brand:        f.Brand,
		Purchaser:    f.Purchaser,
		Status:       store.StatusRunning,
		StartedAt:    taskStart,
		LatencyMS:    -1,
	}
	if err := e.records.UpsertCheckpoint(ctx, &running); err != nil {
		return nil, false, fmt.Errorf("extractor: writing running checkpoint for %s: %w", f.RelativePath, err)
	}

	result, err := e.client.Extract(ctx, f.FilePath, f.Brand, f.Purchaser)
	if err != nil {
		return nil, false, fmt.Errorf("extractor: extracting %s: %w", f.RelativePath, err)
	}

	terminal := running
	terminal.FinishedAt = time.Now().UnixMilli()
	terminal.LatencyMS = result.LatencyMS
	terminal.StatusCode = result.StatusCode
	terminal.ErrorMessage = result.ErrorMessage
	terminal.PatternKey = result.PatternKey
	terminal.FullResponse = result.FullResponse

	if result.Success {
		terminal.Status = store.StatusDone
	} else {
		terminal.Status = store.StatusError
	}

	if err := e.records.UpsertCheckpoint(ctx, &terminal); err != nil {
		return nil, false, fmt.Errorf("extractor: writing terminal checkpoint for %s: %w", f.RelativePath, err)
	}

	if err := e.records.UpdateFileStatusByPath(ctx, f.FilePath, terminal.Status, runID); err != nil {
		return nil, false, fmt.Errorf("extractor: updating registry status for %s: %w", f.RelativePath, err)
	}

	e.appendLog(ctx, runID, f, &terminal)

	if result.Success {
		return nil, false, nil
	}

	return &Failure{
		RelativePath: f.RelativePath,
		Brand:        f.Brand,
		Purchaser:    f.Purchaser,
		StatusCode:   result.StatusCode,
		ErrorMessage: result.ErrorMessage,
	}, result.NetworkAbort, nil
}

// appendLog writes the structured per-file log row. Log failures are
// reported but never fail the task.
func (e *Engine) appendLog(ctx context.Context, runID string, f InputFile, cp *store.Checkpoint) {
	level := "info"
	if cp.Status == store.StatusError {
		level = "error"
	}

	data, err := json.Marshal(map[string]any{
		"relativePath": f.RelativePath,
		"brand":        f.Brand,
		"purchaser":    f.Purchaser,
		"status":       cp.Status,
		"statusCode":   cp.StatusCode,
		"latencyMs":    cp.LatencyMS,
		"error":        cp.ErrorMessage,
	})
	if err != nil {
		return
	}

	if err := e.records.AppendExtractionLog(ctx, store.ExtractionLogEntry{
		RunID: runID,
		Level: level,
		Data:  string(data),
	}); err != nil {
		e.logger.Warn("appending extraction log failed",
			slog.String("path", f.RelativePath),
			slog.String("error", err.Error()),
		)
	}
}

// finish computes the run metrics, fires the failure notification, and
// attaches the cumulative stats.
func (e *Engine) finish(ctx context.Context, opts Options, outcome *Outcome, startedAt int64) (*Outcome, error) {
	records, err := e.records.GetCheckpoints(ctx, opts.RunID)
	if err != nil {
		return nil, fmt.Errorf("extractor: reading back checkpoints: %w", err)
	}

	outcome.Metrics = metrics.Compute(opts.RunID, records, startedAt, time.Now().UnixMilli())

	if len(outcome.Failures) > 0 && e.notifier != nil {
		if err := e.notifier.NotifyFailures(ctx, opts.RunID, outcome.Failures, outcome.Metrics); err != nil {
			e.logger.Warn("failure notification failed", slog.String("error", err.Error()))
		}
	}

	stats, err := e.records.GetCumulativeStats(ctx, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("extractor: reading cumulative stats: %w", err)
	}

	outcome.Cumulative = stats

	return outcome, nil
}
