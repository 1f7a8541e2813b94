package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
)

// App-config keys for the JSON documents the sync engine depends on.
// External processes read these rows, so the keys are contractual.
const (
	metaKeyManifest    = "manifest"
	metaKeyResumeState = "resume_state"
)

const (
	sqlGetMeta = `SELECT value FROM tbl_app_config WHERE key = ?`

	sqlSetMeta = `INSERT INTO tbl_app_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
)

func (s *Store) prepareMetaStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.metaStmts.get, sqlGetMeta, "getMeta"},
		{&s.metaStmts.set, sqlSetMeta, "setMeta"},
	})
}

// GetMeta returns the app-config value for key, or "" when absent.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string

	err := s.metaStmts.get.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", storeErrf(err, "get meta %q", key)
	}

	return value, nil
}

// SetMeta stores an app-config key/value pair.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	if _, err := s.metaStmts.set.ExecContext(ctx, key, value); err != nil {
		return storeErrf(err, "set meta %q", key)
	}

	return nil
}

// GetManifest loads the full manifest document. A missing or empty row
// yields an empty manifest, never an error.
func (s *Store) GetManifest(ctx context.Context) (Manifest, error) {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()

	return s.getManifestLocked(ctx)
}

func (s *Store) getManifestLocked(ctx context.Context) (Manifest, error) {
	raw, err := s.GetMeta(ctx, metaKeyManifest)
	if err != nil {
		return nil, err
	}

	if raw == "" {
		return Manifest{}, nil
	}

	var m Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, storeErr("decode manifest", err)
	}

	return m, nil
}

// SaveManifest replaces the full manifest document.
func (s *Store) SaveManifest(ctx context.Context, m Manifest) error {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()

	return s.saveManifestLocked(ctx, m)
}

func (s *Store) saveManifestLocked(ctx context.Context, m Manifest) error {
	if m == nil {
		m = Manifest{}
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return storeErr("encode manifest", err)
	}

	return s.SetMeta(ctx, metaKeyManifest, string(raw))
}

// UpsertManifestEntry updates one key in the manifest. The read-modify-
// write cycle holds the manifest mutex, so concurrent sync workers
// serialise here rather than losing updates.
func (s *Store) UpsertManifestEntry(ctx context.Context, key string, entry ManifestEntry) error {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()

	m, err := s.getManifestLocked(ctx)
	if err != nil {
		return err
	}

	m[key] = entry

	s.logger.Debug("manifest entry upserted", slog.String("key", key))

	return s.saveManifestLocked(ctx, m)
}

// DeleteManifestEntry removes one key from the manifest. Deleting a
// missing key is a no-op.
func (s *Store) DeleteManifestEntry(ctx context.Context, key string) error {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()

	m, err := s.getManifestLocked(ctx)
	if err != nil {
		return err
	}

	if _, ok := m[key]; !ok {
		return nil
	}

	delete(m, key)

	return s.saveManifestLocked(ctx, m)
}

// GetResumeState loads the in-flight download record. Missing row yields
// the zero state.
func (s *Store) GetResumeState(ctx context.Context) (ResumeState, error) {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()

	raw, err := s.GetMeta(ctx, metaKeyResumeState)
	if err != nil {
		return ResumeState{}, err
	}

	if raw == "" {
		return ResumeState{}, nil
	}

	var rs ResumeState
	if err := json.Unmarshal([]byte(raw), &rs); err != nil {
		return ResumeState{}, storeErr("decode resume state", err)
	}

	return rs, nil
}

// SetResumeState records the download about to start. Written before the
// first byte hits disk so an interrupted sync leaves a trail.
func (s *Store) SetResumeState(ctx context.Context, rs ResumeState) error {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()

	raw, err := json.Marshal(rs)
	if err != nil {
		return storeErr("encode resume state", err)
	}

	return s.SetMeta(ctx, metaKeyResumeState, string(raw))
}

// ClearResumeState erases the in-flight download record after a clean
// completion.
func (s *Store) ClearResumeState(ctx context.Context) error {
	return s.SetResumeState(ctx, ResumeState{})
}
