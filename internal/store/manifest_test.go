package store

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManifest_EmptyByDefault(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	m, err := s.GetManifest(context.Background())
	require.NoError(t, err)

	if len(m) != 0 {
		t.Errorf("fresh manifest = %v, want empty", m)
	}
}

func TestManifest_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	m := Manifest{
		"bucket|acme/bob/a.xlsx": {
			ETag:         "e1",
			SHA256:       "s1",
			Size:         100,
			LocalPath:    "/staging/acme/bob/a.xlsx",
			LastSyncedAt: 123,
		},
	}
	require.NoError(t, s.SaveManifest(ctx, m))

	got, err := s.GetManifest(ctx)
	require.NoError(t, err)

	if !reflect.DeepEqual(got, m) {
		t.Errorf("got %v, want %v", got, m)
	}

	// saveManifest(getManifest()) is a no-op.
	require.NoError(t, s.SaveManifest(ctx, got))

	again, err := s.GetManifest(ctx)
	require.NoError(t, err)

	if !reflect.DeepEqual(again, m) {
		t.Errorf("round-trip changed manifest: %v", again)
	}
}

func TestUpsertManifestEntry(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertManifestEntry(ctx, "k1", ManifestEntry{ETag: "e1", SHA256: "s1"}))
	require.NoError(t, s.UpsertManifestEntry(ctx, "k2", ManifestEntry{ETag: "e2", SHA256: "s2"}))
	require.NoError(t, s.UpsertManifestEntry(ctx, "k1", ManifestEntry{ETag: "e1b", SHA256: "s1b"}))

	m, err := s.GetManifest(ctx)
	require.NoError(t, err)
	require.Len(t, m, 2)

	if m["k1"].ETag != "e1b" {
		t.Errorf("k1 = %+v, want updated etag e1b", m["k1"])
	}
}

func TestDeleteManifestEntry(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertManifestEntry(ctx, "k1", ManifestEntry{ETag: "e1"}))
	require.NoError(t, s.DeleteManifestEntry(ctx, "k1"))

	// Deleting a missing key is a no-op.
	require.NoError(t, s.DeleteManifestEntry(ctx, "k1"))

	m, err := s.GetManifest(ctx)
	require.NoError(t, err)

	if len(m) != 0 {
		t.Errorf("manifest after delete = %v, want empty", m)
	}
}

func TestResumeState_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	rs, err := s.GetResumeState(ctx)
	require.NoError(t, err)

	if !rs.Empty() {
		t.Errorf("fresh resume state = %+v, want empty", rs)
	}

	want := ResumeState{
		SyncInProgressPath:        "/staging/acme/bob/a.xlsx",
		SyncInProgressManifestKey: "bucket|acme/bob/a.xlsx",
	}
	require.NoError(t, s.SetResumeState(ctx, want))

	rs, err = s.GetResumeState(ctx)
	require.NoError(t, err)

	if rs != want {
		t.Errorf("got %+v, want %+v", rs, want)
	}

	require.NoError(t, s.ClearResumeState(ctx))

	rs, err = s.GetResumeState(ctx)
	require.NoError(t, err)

	if !rs.Empty() {
		t.Errorf("after clear = %+v, want empty", rs)
	}
}
