package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entelliextract/intelliextract/internal/objstore"
	"github.com/entelliextract/intelliextract/internal/store"
)

type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// fakeObjects serves a canned listing and in-memory bodies.
type fakeObjects struct {
	objects map[string]map[string]string // bucket -> key -> body
	failGet map[string]bool              // keys whose download fails mid-stream
	listErr map[string]error             // buckets whose listing fails
}

func (f *fakeObjects) List(_ context.Context, bucket, prefix string, fn func(objstore.Object) error) error {
	if err := f.listErr[bucket]; err != nil {
		return err
	}

	keys := make([]string, 0, len(f.objects[bucket]))
	for k := range f.objects[bucket] {
		keys = append(keys, k)
	}

	// Deterministic order for the tests.
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}

	for _, k := range keys {
		if len(prefix) > 0 && len(k) >= len(prefix) && k[:len(prefix)] != prefix {
			continue
		}

		body := f.objects[bucket][k]
		if err := fn(objstore.Object{Key: k, Size: int64(len(body)), ETag: etagOf(body)}); err != nil {
			return err
		}
	}

	return nil
}

func (f *fakeObjects) Get(_ context.Context, bucket, key string, w io.Writer, _ objstore.ProgressFunc) (objstore.GetResult, error) {
	body, ok := f.objects[bucket][key]
	if !ok {
		return objstore.GetResult{}, objstore.ErrNotFound
	}

	if f.failGet[key] {
		// Partial write then failure, like a dropped connection.
		io.WriteString(w, body[:len(body)/2])
		return objstore.GetResult{}, errors.New("connection reset")
	}

	n, err := io.WriteString(w, body)

	return objstore.GetResult{BytesWritten: int64(n), ETag: etagOf(body)}, err
}

func etagOf(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:8])
}

// fakeRecords is an in-memory RecordStore.
type fakeRecords struct {
	mu       sync.Mutex
	manifest store.Manifest
	files    map[string]store.FileRecord
	resume   store.ResumeState
	history  []store.SyncHistoryEntry
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		manifest: store.Manifest{},
		files:    map[string]store.FileRecord{},
	}
}

func (f *fakeRecords) GetManifest(context.Context) (store.Manifest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := store.Manifest{}
	for k, v := range f.manifest {
		out[k] = v
	}

	return out, nil
}

func (f *fakeRecords) UpsertManifestEntry(_ context.Context, key string, entry store.ManifestEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.manifest[key] = entry

	return nil
}

func (f *fakeRecords) RegisterFiles(_ context.Context, files []store.FileRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, fr := range files {
		f.files[fr.ID] = fr
	}

	return nil
}

func (f *fakeRecords) SetResumeState(_ context.Context, rs store.ResumeState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resume = rs

	return nil
}

func (f *fakeRecords) ClearResumeState(ctx context.Context) error {
	return f.SetResumeState(ctx, store.ResumeState{})
}

func (f *fakeRecords) GetResumeState(context.Context) (store.ResumeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.resume, nil
}

func (f *fakeRecords) AppendSyncHistory(_ context.Context, e store.SyncHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.history = append(f.history, e)

	return nil
}

func testBucket() Bucket {
	return Bucket{Bucket: "b1", Prefix: "acme/bob", Tenant: "acme", Purchaser: "bob"}
}

func newTestEngine(t *testing.T, objects *fakeObjects, records *fakeRecords) (*Engine, string) {
	t.Helper()

	staging := t.TempDir()

	return New(objects, records, staging, testLogger(t)), staging
}

func TestSyncBucket_DownloadsNewObjects(t *testing.T) {
	t.Parallel()

	objects := &fakeObjects{objects: map[string]map[string]string{
		"b1": {
			"acme/bob/inv1.xlsx": "body-one",
			"acme/bob/inv2.xlsx": "body-two",
		},
	}}
	records := newFakeRecords()
	engine, staging := newTestEngine(t, objects, records)

	result, err := engine.SyncBucket(context.Background(), testBucket(), Options{})
	require.NoError(t, err)

	if result.Synced != 2 || result.Skipped != 0 || result.Errors != 0 {
		t.Fatalf("result = %+v", result)
	}

	// Files land under staging/tenant/purchaser with the prefix stripped.
	path := filepath.Join(staging, "acme", "bob", "inv1.xlsx")

	body, err := os.ReadFile(path)
	require.NoError(t, err)

	if string(body) != "body-one" {
		t.Errorf("body = %q", body)
	}

	// Manifest and registry were written.
	entry := records.manifest["b1|acme/bob/inv1.xlsx"]
	if entry.LocalPath != path || entry.SHA256 == "" {
		t.Errorf("manifest entry = %+v", entry)
	}

	id := store.FileID("b1", "acme/bob/inv1.xlsx")
	if records.files[id].Brand != "acme" {
		t.Errorf("registry row = %+v", records.files[id])
	}

	// Resume state was cleared after the clean downloads.
	if !records.resume.Empty() {
		t.Errorf("resume state = %+v, want empty", records.resume)
	}

	if len(result.Files) != 2 {
		t.Errorf("synced files = %d, want 2", len(result.Files))
	}

	if result.Files[0].RelativePath != "acme/bob/inv1.xlsx" {
		t.Errorf("relative path = %q", result.Files[0].RelativePath)
	}
}

func TestSyncBucket_SecondRunSkipsEverything(t *testing.T) {
	t.Parallel()

	objects := &fakeObjects{objects: map[string]map[string]string{
		"b1": {
			"acme/bob/a.xlsx": "aaa",
			"acme/bob/b.xlsx": "bbb",
		},
	}}
	records := newFakeRecords()
	engine, _ := newTestEngine(t, objects, records)
	ctx := context.Background()

	first, err := engine.SyncBucket(ctx, testBucket(), Options{})
	require.NoError(t, err)
	require.Equal(t, 2, first.Synced)

	second, err := engine.SyncBucket(ctx, testBucket(), Options{})
	require.NoError(t, err)

	if second.Synced != 0 || second.Skipped != 2 {
		t.Errorf("second run = %+v, want all skipped", second)
	}
}

func TestSyncBucket_RedownloadsOnETagChange(t *testing.T) {
	t.Parallel()

	objects := &fakeObjects{objects: map[string]map[string]string{
		"b1": {"acme/bob/a.xlsx": "version-1"},
	}}
	records := newFakeRecords()
	engine, staging := newTestEngine(t, objects, records)
	ctx := context.Background()

	_, err := engine.SyncBucket(ctx, testBucket(), Options{})
	require.NoError(t, err)

	// Remote content changes, etag changes with it.
	objects.objects["b1"]["acme/bob/a.xlsx"] = "version-2"

	result, err := engine.SyncBucket(ctx, testBucket(), Options{})
	require.NoError(t, err)

	if result.Synced != 1 {
		t.Fatalf("result = %+v, want re-download", result)
	}

	body, err := os.ReadFile(filepath.Join(staging, "acme", "bob", "a.xlsx"))
	require.NoError(t, err)

	if string(body) != "version-2" {
		t.Errorf("body = %q", body)
	}
}

func TestSyncBucket_AlreadyExtractedSkips(t *testing.T) {
	t.Parallel()

	objects := &fakeObjects{objects: map[string]map[string]string{
		"b1": {"acme/bob/a.xlsx": "aaa"},
	}}
	records := newFakeRecords()
	engine, _ := newTestEngine(t, objects, records)

	result, err := engine.SyncBucket(context.Background(), testBucket(), Options{
		AlreadyExtracted: map[string]bool{"acme/bob/a.xlsx": true},
	})
	require.NoError(t, err)

	if result.Synced != 0 || result.Skipped != 1 {
		t.Errorf("result = %+v, want skipped without download", result)
	}
}

func TestSyncBucket_BudgetStopsBucket(t *testing.T) {
	t.Parallel()

	objects := &fakeObjects{objects: map[string]map[string]string{
		"b1": {
			"acme/bob/a.xlsx": "aaa",
			"acme/bob/b.xlsx": "bbb",
			"acme/bob/c.xlsx": "ccc",
		},
	}}
	records := newFakeRecords()
	engine, _ := newTestEngine(t, objects, records)

	result, err := engine.SyncBucket(context.Background(), testBucket(), Options{
		Budget: NewBudget(2),
	})
	require.NoError(t, err)

	if result.Synced != 2 {
		t.Errorf("synced = %d, want budget cap 2", result.Synced)
	}
}

func TestSyncBucket_FailedDownloadLeavesPartFile(t *testing.T) {
	t.Parallel()

	objects := &fakeObjects{
		objects: map[string]map[string]string{
			"b1": {"acme/bob/a.xlsx": "aaaaaaaa"},
		},
		failGet: map[string]bool{"acme/bob/a.xlsx": true},
	}
	records := newFakeRecords()
	engine, staging := newTestEngine(t, objects, records)

	budget := NewBudget(5)

	result, err := engine.SyncBucket(context.Background(), testBucket(), Options{Budget: budget})
	require.NoError(t, err)

	if result.Errors != 1 || result.Synced != 0 {
		t.Fatalf("result = %+v", result)
	}

	// The failed slot was credited back.
	if budget.Remaining() != 5 {
		t.Errorf("budget remaining = %d, want 5", budget.Remaining())
	}

	// .part stays for the next --resume; the final path must not exist.
	finalPath := filepath.Join(staging, "acme", "bob", "a.xlsx")

	if _, statErr := os.Stat(finalPath + partSuffix); statErr != nil {
		t.Errorf(".part file missing: %v", statErr)
	}

	if _, statErr := os.Stat(finalPath); statErr == nil {
		t.Error("final path exists after failed download")
	}

	// No manifest entry for the failure.
	if len(records.manifest) != 0 {
		t.Errorf("manifest = %v, want empty", records.manifest)
	}

	// Resume state still points at the interrupted download.
	if records.resume.SyncInProgressPath != finalPath {
		t.Errorf("resume path = %q, want %q", records.resume.SyncInProgressPath, finalPath)
	}
}

func TestSyncBucket_EventsAndCounts(t *testing.T) {
	t.Parallel()

	objects := &fakeObjects{
		objects: map[string]map[string]string{
			"b1": {
				"acme/bob/ok.xlsx":  "ok",
				"acme/bob/bad.xlsx": "bad",
			},
		},
		failGet: map[string]bool{"acme/bob/bad.xlsx": true},
	}
	records := newFakeRecords()
	engine, _ := newTestEngine(t, objects, records)

	var events []Event
	var total int

	result, err := engine.SyncBucket(context.Background(), testBucket(), Options{
		OnEvent: func(e Event) { events = append(events, e) },
		OnTotal: func(n int) { total = n },
	})
	require.NoError(t, err)

	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}

	// synced + skipped + errors equals the number of listed objects.
	if got := result.Synced + result.Skipped + result.Errors; got != 2 {
		t.Errorf("sum = %d, want 2", got)
	}

	if len(events) != 2 {
		t.Fatalf("events = %d, want one per object", len(events))
	}
}

func TestDestination_PreservesSubPrefix(t *testing.T) {
	t.Parallel()

	engine, staging := newTestEngine(t, &fakeObjects{}, newFakeRecords())

	local, rel := engine.destination(testBucket(), "acme/bob/2024/q1/inv.xlsx")

	wantRel := filepath.Join("acme", "bob", "2024", "q1", "inv.xlsx")
	if rel != wantRel {
		t.Errorf("rel = %q, want %q", rel, wantRel)
	}

	if local != filepath.Join(staging, wantRel) {
		t.Errorf("local = %q", local)
	}
}

func TestBudget(t *testing.T) {
	t.Parallel()

	b := NewBudget(2)

	if !b.Acquire() || !b.Acquire() {
		t.Fatal("initial slots not available")
	}

	if b.Acquire() {
		t.Error("acquired past the limit")
	}

	b.Release()

	if !b.Acquire() {
		t.Error("released slot not reusable")
	}

	unlimited := NewBudget(0)
	for range 100 {
		if !unlimited.Acquire() {
			t.Fatal("unlimited budget refused a slot")
		}
	}

	if !unlimited.Unlimited() {
		t.Error("Unlimited() = false")
	}
}

func TestHashFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	sum := sha256.Sum256([]byte("hello"))
	want := hex.EncodeToString(sum[:])

	got, err := hashFile(path)
	require.NoError(t, err)

	if got != want {
		t.Errorf("hash = %q, want %q", got, want)
	}

	if _, err := hashFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("missing file should error")
	}
}
