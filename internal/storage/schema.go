package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	liverrors "github.com/xtxerr/livedata/internal/errors"
	"github.com/xtxerr/livedata/internal/logging"
)

// Table names used throughout the storage layer.
const (
	TableLogs      = "journal_logs"
	TableProcesses = "process_metrics"
	tableVersion   = "_schema_version"
)

// A migration is a numbered batch of additive, idempotent statements.
// Only create-if-absent operations are allowed: no destructive rename or
// drop of columns holding live data. Because of that, a partially applied
// migration is safe to re-run.
type migration struct {
	version     int
	description string
	statements  []string
}

var migrations = []migration{
	{
		version:     1,
		description: "journal log table with minute buckets and JSON field blob",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS journal_logs (
				timestamp TIMESTAMPTZ NOT NULL,
				minute_key TIMESTAMPTZ NOT NULL,
				fields JSON
			)`,
			`CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON journal_logs(timestamp)`,
			`CREATE INDEX IF NOT EXISTS idx_logs_minute_key ON journal_logs(minute_key)`,
		},
	},
	{
		version:     2,
		description: "promote well-known journal fields to dedicated columns",
		statements: []string{
			`ALTER TABLE journal_logs ADD COLUMN IF NOT EXISTS message VARCHAR`,
			`ALTER TABLE journal_logs ADD COLUMN IF NOT EXISTS priority INTEGER`,
			`ALTER TABLE journal_logs ADD COLUMN IF NOT EXISTS hostname VARCHAR`,
			`ALTER TABLE journal_logs ADD COLUMN IF NOT EXISTS unit VARCHAR`,
			`ALTER TABLE journal_logs ADD COLUMN IF NOT EXISTS pid VARCHAR`,
			`ALTER TABLE journal_logs ADD COLUMN IF NOT EXISTS comm VARCHAR`,
		},
	},
	{
		version:     3,
		description: "process metric samples keyed by (timestamp, pid)",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS process_metrics (
				timestamp TIMESTAMPTZ NOT NULL,
				pid INTEGER NOT NULL,
				name VARCHAR,
				cpu_percent DOUBLE,
				mem_bytes BIGINT,
				user_id VARCHAR,
				runtime_secs BIGINT,
				PRIMARY KEY (timestamp, pid)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_procs_timestamp ON process_metrics(timestamp)`,
		},
	},
}

// Backup copies the database file at path to a sibling .bak file. It must
// run before any migration: without a successful backup there is no
// rollback path, so failure here is fatal. A missing database file is a
// no-op (fresh install).
func Backup(path string) error {
	src, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", liverrors.ErrBackupFailed, path, err)
	}
	defer src.Close()

	backupPath := path + ".bak"
	dst, err := os.Create(backupPath)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", liverrors.ErrBackupFailed, backupPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("%w: copy to %s: %v", liverrors.ErrBackupFailed, backupPath, err)
	}

	if err := dst.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %v", liverrors.ErrBackupFailed, backupPath, err)
	}

	logging.Component("storage").Info("database backed up", "path", backupPath)
	return nil
}

// CurrentVersion reads the applied-migrations record. A database without
// the tracking table reports version 0 (fresh database).
func (s *Store) CurrentVersion(ctx context.Context) (int, error) {
	exists, err := s.TableExists(ctx, tableVersion)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = s.QueryRowContext(ctx,
		"SELECT coalesce(max(version), 0) FROM "+tableVersion,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// Migrate applies every migration numbered above the current version, in
// ascending order, recording each as applied. Idempotent: running it on an
// up-to-date database changes nothing.
//
// Migration errors are fatal and must surface clearly; the database may be
// left in a version-ambiguous state otherwise (no rollback transaction
// spans the whole upgrade).
func (s *Store) Migrate(ctx context.Context) error {
	log := logging.Component("storage")

	if _, err := s.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+tableVersion+` (
		version INTEGER NOT NULL,
		description VARCHAR,
		applied_at TIMESTAMPTZ NOT NULL
	)`); err != nil {
		return fmt.Errorf("%w: create version table: %v", liverrors.ErrMigrationFailed, err)
	}

	current, err := s.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", liverrors.ErrMigrationFailed, err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		log.Info("applying migration", "version", m.version, "description", m.description)

		for _, stmt := range m.statements {
			if _, err := s.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%w: migration %d: %v", liverrors.ErrMigrationFailed, m.version, err)
			}
		}

		if _, err := s.ExecContext(ctx,
			"INSERT INTO "+tableVersion+" (version, description, applied_at) VALUES (?, ?, ?)",
			m.version, m.description, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("%w: record migration %d: %v", liverrors.ErrMigrationFailed, m.version, err)
		}
	}

	return nil
}

// LatestVersion returns the highest migration version this build knows.
func LatestVersion() int {
	return migrations[len(migrations)-1].version
}
