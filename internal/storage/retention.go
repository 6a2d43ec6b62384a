package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xtxerr/livedata/internal/logging"
)

// Fraction of remaining rows removed per size-based pass. Row deletion does
// not linearly shrink the file (only compaction does), so an iterative
// coarse slice avoids over- or under-deleting in one shot.
const sizeSliceFraction = 0.10

// Engine enforces the retention policy: per-kind time cutoffs, per-kind
// size ceilings, and a single compaction once anything was deleted.
//
// Engine methods assume a valid positive Policy; configuration validation
// guarantees that before a Policy reaches this code.
type Engine struct {
	store *Store
	log   *slog.Logger
}

// NewEngine creates a retention engine over the given store.
func NewEngine(store *Store) *Engine {
	return &Engine{
		store: store,
		log:   logging.Component("retention"),
	}
}

// Enforce runs one full retention pass over both data kinds and compacts
// the file if anything was deleted. Tables that do not exist yet (fresh
// install, migrations pending) are skipped, not errors.
func (e *Engine) Enforce(ctx context.Context, policy Policy) (RetentionStats, error) {
	var stats RetentionStats
	sizeBefore := e.store.FileSize()

	logsDeleted, err := e.enforceKind(ctx, TableLogs,
		policy.LogRetentionDays, policy.LogMaxBytes)
	if err != nil {
		return stats, fmt.Errorf("enforce log retention: %w", err)
	}
	stats.LogsDeleted = logsDeleted

	procsDeleted, err := e.enforceKind(ctx, TableProcesses,
		policy.ProcessRetentionDays, policy.ProcessMaxBytes)
	if err != nil {
		return stats, fmt.Errorf("enforce process retention: %w", err)
	}
	stats.ProcessesDeleted = procsDeleted

	if stats.TotalDeleted() > 0 {
		if err := e.store.Vacuum(ctx); err != nil {
			return stats, fmt.Errorf("compact after retention: %w", err)
		}
		stats.Vacuumed = true
	}

	if reclaimed := sizeBefore - e.store.FileSize(); reclaimed > 0 {
		stats.BytesReclaimed = reclaimed
	}

	return stats, nil
}

// enforceKind runs the time-based pass and then the size-based pass for one
// table.
func (e *Engine) enforceKind(ctx context.Context, table string, retentionDays int, maxBytes int64) (int64, error) {
	exists, err := e.store.TableExists(ctx, table)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	deleted, err := e.deleteOlderThan(ctx, table, retentionDays)
	if err != nil {
		return deleted, err
	}

	if deleted > 0 {
		e.log.Info("time-based retention pass",
			"table", table, "retention_days", retentionDays, "deleted", deleted)
	}

	sizeDeleted, err := e.shrinkToSize(ctx, table, maxBytes)
	if err != nil {
		return deleted + sizeDeleted, err
	}

	return deleted + sizeDeleted, nil
}

// deleteOlderThan removes all rows with a timestamp before now minus the
// retention window, in one statement.
func (e *Engine) deleteOlderThan(ctx context.Context, table string, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	res, err := e.store.ExecContext(ctx,
		"DELETE FROM "+table+" WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired rows from %s: %w", table, err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return deleted, nil
}

// shrinkToSize deletes the oldest rows in coarse slices until the database
// file fits under maxBytes or the table is empty. Each slice is followed by
// a checkpoint so the re-measured file size reflects the deletions.
func (e *Engine) shrinkToSize(ctx context.Context, table string, maxBytes int64) (int64, error) {
	var totalDeleted int64

	for e.store.FileSize() > maxBytes {
		remaining, err := e.store.RowCount(ctx, table)
		if err != nil {
			return totalDeleted, err
		}
		if remaining == 0 {
			break
		}

		slice := int64(float64(remaining) * sizeSliceFraction)
		if slice < 1 {
			slice = 1
		}

		res, err := e.store.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE rowid IN (SELECT rowid FROM "+table+
				" ORDER BY timestamp ASC LIMIT ?)", slice)
		if err != nil {
			return totalDeleted, fmt.Errorf("delete oldest slice from %s: %w", table, err)
		}

		deleted, err := res.RowsAffected()
		if err != nil || deleted == 0 {
			break
		}
		totalDeleted += deleted

		// Deletions alone do not move the file size; flush before
		// re-measuring so the loop can converge.
		if err := e.store.Vacuum(ctx); err != nil {
			return totalDeleted, err
		}

		e.log.Info("size-based retention slice",
			"table", table, "deleted", deleted, "file_size", e.store.FileSize(),
			"max_bytes", maxBytes)
	}

	return totalDeleted, nil
}
