package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// testLogger returns an slog.Logger at Debug level that writes to t.Log,
// so store activity appears in test output with -v.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// newTestStore opens a store on a temp database, closed on cleanup.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "test.db"), testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func TestOpen_CreatesDirectory(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "deeper", "test.db")

	s, err := Open(dbPath, testLogger(t))
	require.NoError(t, err)
	defer s.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file not created: %v", err)
	}
}

func TestOpen_Reopen(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := Open(dbPath, testLogger(t))
	require.NoError(t, err)

	require.NoError(t, s.SetMeta(ctx, "k", "v"))
	require.NoError(t, s.Close())

	// Migrations must be a no-op the second time, data must survive.
	s2, err := Open(dbPath, testLogger(t))
	require.NoError(t, err)
	defer s2.Close()

	v, err := s2.GetMeta(ctx, "k")
	require.NoError(t, err)

	if v != "v" {
		t.Errorf("meta after reopen = %q, want %q", v, "v")
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "test.db"), testLogger(t))
	require.NoError(t, err)

	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestBackup(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetMeta(ctx, "k", "backup-me"))

	dest := filepath.Join(t.TempDir(), "copy.db")
	require.NoError(t, s.Backup(ctx, dest))

	// The copy must be a standalone, readable database.
	copied, err := Open(dest, testLogger(t))
	require.NoError(t, err)
	defer copied.Close()

	v, err := copied.GetMeta(ctx, "k")
	require.NoError(t, err)

	if v != "backup-me" {
		t.Errorf("backup meta = %q, want %q", v, "backup-me")
	}
}

func TestBackup_ReplacesStaleFile(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	dest := filepath.Join(t.TempDir(), "copy.db")
	require.NoError(t, os.WriteFile(dest, []byte("stale"), 0o644))

	require.NoError(t, s.Backup(ctx, dest))

	info, err := os.Stat(dest)
	require.NoError(t, err)

	if info.Size() <= int64(len("stale")) {
		t.Errorf("backup did not replace stale file, size = %d", info.Size())
	}
}

func TestMeta_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetMeta(ctx, "missing")
	require.NoError(t, err)

	if v != "" {
		t.Errorf("missing meta = %q, want empty", v)
	}

	require.NoError(t, s.SetMeta(ctx, "key", "one"))
	require.NoError(t, s.SetMeta(ctx, "key", "two"))

	v, err = s.GetMeta(ctx, "key")
	require.NoError(t, err)

	if v != "two" {
		t.Errorf("meta = %q, want %q", v, "two")
	}
}

func TestWALCheckpoint(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetMeta(ctx, "k", "v"))

	if err := s.Checkpoint(ctx); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
}
