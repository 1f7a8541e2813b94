// Package syncer mirrors remote spreadsheet objects into the local staging
// tree. Each bucket maps one tenant/purchaser slice; a manifest of
// etag+sha256 memos makes re-syncs skip unchanged objects, and partial
// downloads are recoverable through the store's resume state.
package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/entelliextract/intelliextract/internal/objstore"
	"github.com/entelliextract/intelliextract/internal/store"
)

// partSuffix marks in-flight downloads. The suffix is stripped by an
// atomic rename only after the full body has been written and hashed.
const partSuffix = ".part"

const dirPerms = 0o755

// errBudgetExhausted stops the listing walk early without failing the
// bucket.
var errBudgetExhausted = errors.New("syncer: download budget exhausted")

// Bucket describes one remote slice to mirror: every object under
// bucket/prefix belongs to a single tenant ("brand") and purchaser.
type Bucket struct {
	Bucket    string
	Prefix    string
	Tenant    string
	Purchaser string
}

// SyncedFile identifies a freshly downloaded file, in the shape the
// extraction engine consumes.
type SyncedFile struct {
	FilePath     string
	RelativePath string
	Brand        string
	Purchaser    string
	Size         int64
}

// BucketResult is the per-bucket sync outcome. Synced + Skipped + Errors
// equals the number of listed objects examined.
type BucketResult struct {
	Brand     string
	Purchaser string
	Synced    int
	Skipped   int
	Errors    int
	Files     []SyncedFile
}

// EventType tags per-file sync events.
type EventType string

const (
	EventSynced  EventType = "synced"
	EventSkipped EventType = "skipped"
	EventError   EventType = "error"
)

// Event is emitted once per examined object.
type Event struct {
	Type      EventType
	Bucket    string
	Key       string
	LocalPath string
	Err       error
}

// ObjectStore is the remote capability the engine consumes.
type ObjectStore interface {
	List(ctx context.Context, bucket, prefix string, fn func(objstore.Object) error) error
	Get(ctx context.Context, bucket, key string, w io.Writer, onProgress objstore.ProgressFunc) (objstore.GetResult, error)
}

// RecordStore is the persistence surface the engine consumes.
type RecordStore interface {
	GetManifest(ctx context.Context) (store.Manifest, error)
	UpsertManifestEntry(ctx context.Context, key string, entry store.ManifestEntry) error
	RegisterFiles(ctx context.Context, files []store.FileRecord) error
	SetResumeState(ctx context.Context, rs store.ResumeState) error
	ClearResumeState(ctx context.Context) error
}

// Options tunes one sync invocation.
type Options struct {
	// Budget is the shared new-download allowance. Nil means unlimited.
	Budget *Budget
	// AlreadyExtracted maps staging-relative paths that have a terminal
	// extraction outcome; they are skipped without hash verification.
	AlreadyExtracted map[string]bool
	// OnEvent receives one event per examined object. May be nil.
	OnEvent func(Event)
	// OnTotal reports the bucket's listed object count once the listing
	// completes, before any object is examined. May be nil.
	OnTotal func(total int)
}

// Engine syncs buckets into the staging tree.
type Engine struct {
	objects    ObjectStore
	records    RecordStore
	stagingDir string
	logger     *slog.Logger
}

// New creates a sync engine rooted at stagingDir.
func New(objects ObjectStore, records RecordStore, stagingDir string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		objects:    objects,
		records:    records,
		stagingDir: stagingDir,
		logger:     logger,
	}
}

// SyncBucket brings the local staging tree for one bucket into agreement
// with the remote prefix. Per-file failures are counted, not propagated;
// only listing failures and context cancellation abort the bucket.
func (e *Engine) SyncBucket(ctx context.Context, b Bucket, opts Options) (*BucketResult, error) {
	result := &BucketResult{Brand: b.Tenant, Purchaser: b.Purchaser}

	manifest, err := e.records.GetManifest(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncer: loading manifest: %w", err)
	}

	budget := opts.Budget
	if budget == nil {
		budget = NewBudget(0)
	}

	e.logger.Info("syncing bucket",
		slog.String("bucket", b.Bucket),
		slog.String("prefix", b.Prefix),
		slog.String("tenant", b.Tenant),
		slog.String("purchaser", b.Purchaser),
	)

	var objects []Object

	err = e.objects.List(ctx, b.Bucket, b.Prefix, func(obj Object) error {
		objects = append(objects, obj)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("syncer: listing bucket %s: %w", b.Bucket, err)
	}

	if opts.OnTotal != nil {
		opts.OnTotal(len(objects))
	}

	err = e.processObjects(ctx, b, objects, budget, opts, manifest, result)
	if err != nil && !errors.Is(err, errBudgetExhausted) {
		return nil, err
	}

	e.logger.Info("bucket sync complete",
		slog.String("bucket", b.Bucket),
		slog.Int("synced", result.Synced),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", result.Errors),
	)

	return result, nil
}

// processObjects walks the gathered listing, applying the skip-or-download
// decision per object.
func (e *Engine) processObjects(
	ctx context.Context, b Bucket, objects []Object,
	budget *Budget, opts Options, manifest store.Manifest, result *BucketResult,
) error {
	for _, obj := range objects {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		localPath, relPath := e.destination(b, obj.Key)
		manifestKey := manifestKey(b.Bucket, obj.Key)

		if e.upToDate(manifest[manifestKey], localPath, obj.ETag) {
			result.Skipped++
			e.emit(opts, Event{Type: EventSkipped, Bucket: b.Bucket, Key: obj.Key, LocalPath: localPath})

			continue
		}

		if opts.AlreadyExtracted[relPath] {
			result.Skipped++
			e.emit(opts, Event{Type: EventSkipped, Bucket: b.Bucket, Key: obj.Key, LocalPath: localPath})

			continue
		}

		if !budget.Acquire() {
			e.logger.Info("download budget exhausted, stopping bucket",
				slog.String("bucket", b.Bucket))

			return errBudgetExhausted
		}

		sha, size, dlErr := e.download(ctx, b, obj, localPath, manifestKey)
		if dlErr != nil {
			budget.Release()

			result.Errors++
			e.emit(opts, Event{Type: EventError, Bucket: b.Bucket, Key: obj.Key, LocalPath: localPath, Err: dlErr})
			e.logger.Warn("download failed",
				slog.String("key", obj.Key),
				slog.String("error", dlErr.Error()),
			)

			continue
		}

		result.Synced++
		result.Files = append(result.Files, SyncedFile{
			FilePath:     localPath,
			RelativePath: relPath,
			Brand:        b.Tenant,
			Purchaser:    b.Purchaser,
			Size:         size,
		})
		e.emit(opts, Event{Type: EventSynced, Bucket: b.Bucket, Key: obj.Key, LocalPath: localPath})

		e.logger.Debug("object synced",
			slog.String("key", obj.Key),
			slog.Int64("size", size),
			slog.String("sha256", sha),
		)
	}

	return nil
}

// Object aliases the adapter's listing entry.
type Object = objstore.Object

// destination computes the staging path for a remote key, preserving any
// sub-prefix below the tenant root. Paths are NFC-normalised so keys that
// differ only in Unicode composition land on one file.
func (e *Engine) destination(b Bucket, key string) (localPath, relPath string) {
	rest := strings.TrimPrefix(key, b.Prefix)
	rest = strings.TrimPrefix(rest, "/")

	if rest == "" {
		rest = filepath.Base(key)
	}

	relPath = norm.NFC.String(filepath.Join(b.Tenant, b.Purchaser, filepath.FromSlash(rest)))

	return filepath.Join(e.stagingDir, relPath), relPath
}

// upToDate applies the manifest invariant: entry present, local file
// present, on-disk hash matches the memo, and the remote etag is
// unchanged.
func (e *Engine) upToDate(entry store.ManifestEntry, localPath, remoteETag string) bool {
	if entry.ETag == "" || entry.ETag != remoteETag {
		return false
	}

	if _, err := os.Stat(localPath); err != nil {
		return false
	}

	sha, err := hashFile(localPath)
	if err != nil {
		return false
	}

	return sha == entry.SHA256
}

// download streams one object to localPath via a .part file, hashing on
// the fly, then atomically renames and records the outcome. The resume
// state brackets the transfer so an interruption leaves a recoverable
// trail. On failure the .part file stays on disk for the next --resume.
func (e *Engine) download(ctx context.Context, b Bucket, obj Object, localPath, manifestKey string) (string, int64, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), dirPerms); err != nil {
		return "", 0, fmt.Errorf("creating staging dir: %w", err)
	}

	if err := e.records.SetResumeState(ctx, store.ResumeState{
		SyncInProgressPath:        localPath,
		SyncInProgressManifestKey: manifestKey,
	}); err != nil {
		return "", 0, fmt.Errorf("recording resume state: %w", err)
	}

	partPath := localPath + partSuffix

	f, err := os.Create(partPath)
	if err != nil {
		return "", 0, fmt.Errorf("creating partial file: %w", err)
	}

	h := sha256.New()
	w := io.MultiWriter(f, h)

	got, err := e.objects.Get(ctx, b.Bucket, obj.Key, w, nil)
	if err != nil {
		f.Close()

		return "", 0, fmt.Errorf("downloading %s: %w", obj.Key, err)
	}

	if err := f.Close(); err != nil {
		return "", 0, fmt.Errorf("closing partial file: %w", err)
	}

	if err := os.Rename(partPath, localPath); err != nil {
		return "", 0, fmt.Errorf("renaming partial to %s: %w", localPath, err)
	}

	sha := hex.EncodeToString(h.Sum(nil))

	etag := got.ETag
	if etag == "" {
		etag = obj.ETag
	}

	if err := e.records.UpsertManifestEntry(ctx, manifestKey, store.ManifestEntry{
		ETag:         etag,
		SHA256:       sha,
		Size:         got.BytesWritten,
		LocalPath:    localPath,
		LastSyncedAt: nowMilli(),
	}); err != nil {
		return "", 0, fmt.Errorf("updating manifest: %w", err)
	}

	if err := e.records.ClearResumeState(ctx); err != nil {
		return "", 0, fmt.Errorf("clearing resume state: %w", err)
	}

	if err := e.records.RegisterFiles(ctx, []store.FileRecord{{
		ID:        store.FileID(b.Bucket, obj.Key),
		FullPath:  localPath,
		Brand:     b.Tenant,
		Purchaser: b.Purchaser,
		Size:      got.BytesWritten,
		ETag:      etag,
		SHA256:    sha,
	}}); err != nil {
		return "", 0, fmt.Errorf("registering file: %w", err)
	}

	return sha, got.BytesWritten, nil
}

func (e *Engine) emit(opts Options, evt Event) {
	if opts.OnEvent != nil {
		opts.OnEvent(evt)
	}
}

// manifestKey is the stable manifest lookup key for an object.
func manifestKey(bucket, key string) string {
	return bucket + "|" + key
}
