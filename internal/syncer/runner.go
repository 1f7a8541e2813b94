package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/entelliextract/intelliextract/internal/store"
)

// bucketWorkers bounds concurrent per-bucket syncs in SyncAll.
const bucketWorkers = 10

// HistoryStore extends RecordStore with the surfaces SyncAll and resume
// cleanup need.
type HistoryStore interface {
	RecordStore
	GetResumeState(ctx context.Context) (store.ResumeState, error)
	AppendSyncHistory(ctx context.Context, entry store.SyncHistoryEntry) error
}

// RunResult aggregates the outcome of a multi-bucket sync.
type RunResult struct {
	Synced  int
	Skipped int
	Errors  int
	Files   []SyncedFile
	Buckets []BucketResult
}

// ProgressFunc receives cumulative (done, total) counts across all
// buckets. total grows as bucket listings complete.
type ProgressFunc func(done, total int)

// Runner drives the engine across a set of buckets.
type Runner struct {
	engine  *Engine
	records HistoryStore
	logger  *slog.Logger
}

// NewRunner wraps an engine for multi-bucket syncs.
func NewRunner(engine *Engine, records HistoryStore, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{engine: engine, records: records, logger: logger}
}

// SyncAll syncs every bucket through a bounded worker pool, reporting
// cumulative progress by summing per-bucket snapshots. Per-bucket
// failures are recorded in the result; only context cancellation aborts
// the whole run. A history entry is appended once the run settles.
func (r *Runner) SyncAll(ctx context.Context, buckets []Bucket, opts Options, onProgress ProgressFunc) (*RunResult, error) {
	result := &RunResult{}

	var (
		mu    sync.Mutex
		done  int
		total int
	)

	report := func() {
		if onProgress != nil {
			onProgress(done, total)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bucketWorkers)

	for _, b := range buckets {
		g.Go(func() error {
			bucketOpts := opts

			bucketOpts.OnTotal = func(n int) {
				mu.Lock()
				total += n
				report()
				mu.Unlock()
			}

			userEvent := opts.OnEvent
			bucketOpts.OnEvent = func(evt Event) {
				mu.Lock()
				done++
				report()
				mu.Unlock()

				if userEvent != nil {
					userEvent(evt)
				}
			}

			br, err := r.engine.SyncBucket(gctx, b, bucketOpts)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}

				r.logger.Error("bucket sync failed",
					slog.String("bucket", b.Bucket),
					slog.String("error", err.Error()),
				)

				br = &BucketResult{Brand: b.Tenant, Purchaser: b.Purchaser, Errors: 1}
			}

			mu.Lock()
			result.Synced += br.Synced
			result.Skipped += br.Skipped
			result.Errors += br.Errors
			result.Files = append(result.Files, br.Files...)
			result.Buckets = append(result.Buckets, *br)
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("syncer: sync run: %w", err)
	}

	if err := r.appendHistory(ctx, buckets, result); err != nil {
		r.logger.Warn("recording sync history failed", slog.String("error", err.Error()))
	}

	return result, nil
}

// CleanupInterrupted removes the partial file left by an interrupted
// download and clears the resume state. A no-op when no sync was in
// flight.
func (r *Runner) CleanupInterrupted(ctx context.Context) error {
	rs, err := r.records.GetResumeState(ctx)
	if err != nil {
		return fmt.Errorf("syncer: reading resume state: %w", err)
	}

	if rs.Empty() {
		return nil
	}

	partPath := rs.SyncInProgressPath + partSuffix
	if err := os.Remove(partPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("syncer: removing partial file %s: %w", partPath, err)
	}

	r.logger.Info("cleaned up interrupted download",
		slog.String("path", rs.SyncInProgressPath))

	if err := r.records.ClearResumeState(ctx); err != nil {
		return fmt.Errorf("syncer: clearing resume state: %w", err)
	}

	return nil
}

// appendHistory records the run in the sync history log.
func (r *Runner) appendHistory(ctx context.Context, buckets []Bucket, result *RunResult) error {
	brands := make([]string, 0, len(buckets))
	purchasers := make([]string, 0, len(buckets))

	seenBrand := map[string]bool{}
	seenPurchaser := map[string]bool{}

	for _, b := range buckets {
		if !seenBrand[b.Tenant] {
			seenBrand[b.Tenant] = true

			brands = append(brands, b.Tenant)
		}

		if !seenPurchaser[b.Purchaser] {
			seenPurchaser[b.Purchaser] = true

			purchasers = append(purchasers, b.Purchaser)
		}
	}

	return r.records.AppendSyncHistory(ctx, store.SyncHistoryEntry{
		Timestamp:  time.Now().UnixMilli(),
		Brands:     brands,
		Purchasers: purchasers,
		Synced:     result.Synced,
		Skipped:    result.Skipped,
		Errors:     result.Errors,
	})
}
