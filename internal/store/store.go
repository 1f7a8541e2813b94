// Package store is the durable record store for the extraction pipeline:
// file registry, per-run checkpoints, run summaries, sync history, and the
// app-config key/value rows that hold the manifest and resume state.
//
// One physical SQLite database per process, WAL mode, single writer. All
// mutations are synchronous; multi-row writes go through a transaction.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	stdsync "sync"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	// walJournalSizeLimit bounds the WAL file on disk (64 MiB).
	walJournalSizeLimit = 67108864
	// busyTimeoutMS lets readers wait out the single writer instead of
	// failing with SQLITE_BUSY.
	busyTimeoutMS = 5000
	// dirPerms for on-demand directory creation.
	dirPerms = 0o755
)

// Store implements the record store on an embedded SQLite database.
// It is safe for concurrent use; SetMaxOpenConns(1) serialises writes.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	// manifestMu guards the read-modify-write cycle on the manifest and
	// resume-state JSON documents in tbl_app_config.
	manifestMu stdsync.Mutex

	registryStmts   registryStatements
	checkpointStmts checkpointStatements
	runStmts        runStatements
	historyStmts    historyStatements
	metaStmts       metaStatements
	logStmts        logStatements
}

type registryStatements struct {
	upsert, get, updateStatus, updateStatusByPath *sql.Stmt
}

type checkpointStatements struct {
	upsert, completedByRun, completedAll, processedByRun, processedAll, errorsByRun, errorsAll, listByRun *sql.Stmt
}

type runStatements struct {
	insert, finish, current, lastCompleted, get, saveSummary, getSummary *sql.Stmt
}

type historyStatements struct {
	append, list *sql.Stmt
}

type metaStatements struct {
	get, set *sql.Stmt
}

type logStatements struct {
	extraction, email, schedule, cronList *sql.Stmt
}

// Open creates the database directory on demand, opens the database at
// dbPath, applies pragmas and migrations, and prepares all repeated
// statements.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening record store", slog.String("path", dbPath))

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, dirPerms); err != nil {
			return nil, storeErrf(err, "create database dir %s", dir)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, storeErr("open sqlite", err)
	}

	// Single writer: one connection avoids SQLITE_BUSY between the two
	// engines and keeps multi-statement sections atomic.
	db.SetMaxOpenConns(1)

	if err := setPragmas(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, path: dbPath, logger: logger}

	if err := s.prepareAllStatements(context.Background()); err != nil {
		db.Close()
		return nil, storeErr("prepare statements", err)
	}

	logger.Info("record store ready", slog.String("path", dbPath))

	return s, nil
}

// setPragmas configures SQLite for WAL mode and single-writer durability.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMS), "busy timeout"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return storeErrf(err, "set pragma %s", p.desc)
		}

		logger.Debug("pragma set", slog.String("pragma", p.desc))
	}

	return nil
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return storeErr("create migration sub-filesystem", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return storeErr("create migration provider", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return storeErr("run migrations", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// stmtDef maps a SQL string to the prepared statement pointer it populates.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

// prepareAll prepares a batch of statements, returning on first error.
func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

func (s *Store) prepareAllStatements(ctx context.Context) error {
	if err := s.prepareRegistryStmts(ctx); err != nil {
		return err
	}

	if err := s.prepareCheckpointStmts(ctx); err != nil {
		return err
	}

	if err := s.prepareRunStmts(ctx); err != nil {
		return err
	}

	if err := s.prepareHistoryStmts(ctx); err != nil {
		return err
	}

	if err := s.prepareMetaStmts(ctx); err != nil {
		return err
	}

	return s.prepareLogStmts(ctx)
}

// Backup writes a consistent copy of the database to destPath using
// VACUUM INTO. An existing file at destPath is replaced.
func (s *Store) Backup(ctx context.Context, destPath string) error {
	s.logger.Info("backing up record store", slog.String("dest", destPath))

	// VACUUM INTO refuses to overwrite; remove any stale copy first.
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return storeErrf(err, "remove stale backup %s", destPath)
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return storeErrf(err, "vacuum into %s", destPath)
	}

	return nil
}

// Checkpoint forces a WAL checkpoint, consolidating the WAL file into the
// main database.
func (s *Store) Checkpoint(ctx context.Context) error {
	s.logger.Debug("running WAL checkpoint")

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return storeErr("wal checkpoint", err)
	}

	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes all prepared statements and the database connection.
// Safe to call more than once.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	s.logger.Info("closing record store")

	if err := s.closeStatements(); err != nil {
		s.logger.Error("error closing statements", slog.String("error", err.Error()))
	}

	err := s.db.Close()
	s.db = nil

	if err != nil {
		return storeErr("close database", err)
	}

	return nil
}

func (s *Store) closeStatements() error {
	stmts := []*sql.Stmt{
		s.registryStmts.upsert, s.registryStmts.get, s.registryStmts.updateStatus,
		s.registryStmts.updateStatusByPath,
		s.checkpointStmts.upsert,
		s.checkpointStmts.completedByRun, s.checkpointStmts.completedAll,
		s.checkpointStmts.processedByRun, s.checkpointStmts.processedAll,
		s.checkpointStmts.errorsByRun, s.checkpointStmts.errorsAll,
		s.checkpointStmts.listByRun,
		s.runStmts.insert, s.runStmts.finish, s.runStmts.current,
		s.runStmts.lastCompleted, s.runStmts.get,
		s.runStmts.saveSummary, s.runStmts.getSummary,
		s.historyStmts.append, s.historyStmts.list,
		s.metaStmts.get, s.metaStmts.set,
		s.logStmts.extraction, s.logStmts.email, s.logStmts.schedule, s.logStmts.cronList,
	}

	var errs []string

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close statements: %s", strings.Join(errs, "; "))
	}

	return nil
}
