// Package export writes journal logs out of the database into per-minute
// Parquet files, laid out as base/hostname/YYYY/MM/DD/YYYYMMDD-HHMM-journald.parquet.
package export

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/livedata/internal/logging"
	"github.com/xtxerr/livedata/internal/storage"
)

const dataSource = "journald"

// LogRow is the Parquet schema for one exported log entry.
type LogRow struct {
	TimestampUs int64  `parquet:"timestamp_us"`
	MinuteKeyUs int64  `parquet:"minute_key_us"`
	Message     string `parquet:"message,zstd"`
	Priority    int32  `parquet:"priority"`
	Hostname    string `parquet:"hostname,zstd"`
	Unit        string `parquet:"unit,zstd"`
	PID         string `parquet:"pid"`
	Comm        string `parquet:"comm,zstd"`
	Fields      string `parquet:"fields,zstd"`
}

// Result describes one exported minute.
type Result struct {
	Path    string    `json:"path"`
	Minute  time.Time `json:"minute"`
	Rows    int64     `json:"rows"`
	Bytes   int64     `json:"bytes"`
	Skipped bool      `json:"skipped"`
}

// Exporter writes per-minute Parquet files from the log table.
type Exporter struct {
	store    *storage.Store
	baseDir  string
	hostname string
	log      *slog.Logger
}

// New creates an exporter rooted at baseDir. The machine hostname becomes
// the top-level directory.
func New(store *storage.Store, baseDir string) (*Exporter, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("resolve hostname: %w", err)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}

	return &Exporter{
		store:    store,
		baseDir:  baseDir,
		hostname: hostname,
		log:      logging.Component("export"),
	}, nil
}

// Hostname returns the directory-naming hostname.
func (e *Exporter) Hostname() string { return e.hostname }

// Filename returns the per-minute file name, e.g. 20260117-1430-journald.parquet.
func Filename(minute time.Time) string {
	return minute.UTC().Format("20060102-1504") + "-" + dataSource + ".parquet"
}

// PathFor returns the full file path for a minute, creating the date
// directories as needed.
func (e *Exporter) PathFor(minute time.Time) (string, error) {
	m := minute.UTC()
	dir := filepath.Join(e.baseDir, e.hostname,
		m.Format("2006"), m.Format("01"), m.Format("02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create date directory: %w", err)
	}
	return filepath.Join(dir, Filename(m)), nil
}

// ExportMinute writes all log rows for one minute bucket to a Parquet
// file. An already-exported minute is skipped, never overwritten.
func (e *Exporter) ExportMinute(ctx context.Context, minute time.Time) (*Result, error) {
	minute = minute.UTC().Truncate(time.Minute)

	path, err := e.PathFor(minute)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err == nil {
		e.log.Warn("parquet file already exists, skipping", "path", path)
		return &Result{Path: path, Minute: minute, Skipped: true}, nil
	}

	rows, err := e.rowsForMinute(ctx, minute)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create parquet file: %w", err)
	}

	w := parquet.NewGenericWriter[LogRow](f, parquet.Compression(&parquet.Zstd))
	if _, err := w.Write(rows); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("finalize parquet file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close parquet file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	res := &Result{Path: path, Minute: minute, Rows: int64(len(rows)), Bytes: info.Size()}
	e.log.Info("exported minute",
		"minute", minute, "rows", res.Rows, "bytes", res.Bytes, "path", path)
	return res, nil
}

// ExportRange exports every completed minute bucket in [start, end). A
// minute counts as completed once the wall clock has passed its end; the
// minute still being written is left alone. Failures on one minute are
// logged and the remaining minutes still run.
func (e *Exporter) ExportRange(ctx context.Context, start, end time.Time) ([]Result, error) {
	minutes, err := e.bufferedMinutes(ctx, start, end)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-time.Minute)

	var results []Result
	for _, minute := range minutes {
		if minute.After(cutoff) {
			continue
		}
		res, err := e.ExportMinute(ctx, minute)
		if err != nil {
			e.log.Error("minute export failed", "minute", minute, "error", err)
			continue
		}
		results = append(results, *res)
	}
	return results, nil
}

func (e *Exporter) rowsForMinute(ctx context.Context, minute time.Time) ([]LogRow, error) {
	dbRows, err := e.store.QueryContext(ctx, `
		SELECT timestamp, minute_key, message, priority, hostname, unit, pid, comm, fields
		FROM journal_logs WHERE minute_key = ? ORDER BY timestamp`, minute)
	if err != nil {
		return nil, fmt.Errorf("query minute rows: %w", err)
	}
	defer dbRows.Close()

	var rows []LogRow
	for dbRows.Next() {
		var ts, mk time.Time
		var message, hostname, unit, pid, comm, fields *string
		var priority *int32

		if err := dbRows.Scan(&ts, &mk, &message, &priority,
			&hostname, &unit, &pid, &comm, &fields); err != nil {
			return nil, fmt.Errorf("scan minute row: %w", err)
		}

		row := LogRow{
			TimestampUs: ts.UnixMicro(),
			MinuteKeyUs: mk.UnixMicro(),
			Priority:    -1,
		}
		if message != nil {
			row.Message = *message
		}
		if priority != nil {
			row.Priority = *priority
		}
		if hostname != nil {
			row.Hostname = *hostname
		}
		if unit != nil {
			row.Unit = *unit
		}
		if pid != nil {
			row.PID = *pid
		}
		if comm != nil {
			row.Comm = *comm
		}
		if fields != nil {
			row.Fields = *fields
		}
		rows = append(rows, row)
	}
	return rows, dbRows.Err()
}

func (e *Exporter) bufferedMinutes(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	exists, err := e.store.TableExists(ctx, storage.TableLogs)
	if err != nil || !exists {
		return nil, err
	}

	rows, err := e.store.QueryContext(ctx, `
		SELECT DISTINCT minute_key FROM journal_logs
		WHERE minute_key >= ? AND minute_key < ?
		ORDER BY minute_key`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("list minute buckets: %w", err)
	}
	defer rows.Close()

	var minutes []time.Time
	for rows.Next() {
		var m time.Time
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		minutes = append(minutes, m.UTC())
	}
	return minutes, rows.Err()
}

// DiskUsage sums the size of all Parquet files under the export root.
func (e *Exporter) DiskUsage() (int64, error) {
	var total int64
	err := filepath.WalkDir(e.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".parquet") {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// FileCount counts Parquet files under the export root.
func (e *Exporter) FileCount() (int, error) {
	count := 0
	err := filepath.WalkDir(e.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasSuffix(path, ".parquet") {
			count++
		}
		return err
	})
	return count, err
}
