package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/livedata/internal/logging"
)

// Writer is the write path: it persists individual log records and batches
// of process metrics. Each sustained data kind holds its own pinned
// connection to the shared file so the two write paths never serialize
// behind one handle.
type Writer struct {
	store *Store
	log   *slog.Logger

	logConn    *sql.Conn
	metricConn *sql.Conn

	// Insert latency sketch, surfaced by the health snapshot.
	sketchMu sync.Mutex
	sketch   *ddsketch.DDSketch

	logsWritten    atomic.Int64
	batchesWritten atomic.Int64
	rowsWritten    atomic.Int64
	rowsSkipped    atomic.Int64
}

// NewWriter pins one connection per data kind from the store's pool.
func NewWriter(ctx context.Context, store *Store) (*Writer, error) {
	logConn, err := store.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("pin log connection: %w", err)
	}

	metricConn, err := store.Conn(ctx)
	if err != nil {
		logConn.Close()
		return nil, fmt.Errorf("pin metric connection: %w", err)
	}

	// 1% relative accuracy is plenty for latency reporting.
	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		logConn.Close()
		metricConn.Close()
		return nil, fmt.Errorf("create latency sketch: %w", err)
	}

	return &Writer{
		store:      store,
		log:        logging.Component("writer"),
		logConn:    logConn,
		metricConn: metricConn,
		sketch:     sketch,
	}, nil
}

// Close releases the pinned connections.
func (w *Writer) Close() error {
	var firstErr error
	if err := w.logConn.Close(); err != nil {
		firstErr = err
	}
	if err := w.metricConn.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

const insertLogSQL = `INSERT INTO journal_logs
	(timestamp, minute_key, message, priority, hostname, unit, pid, comm, fields)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertLog persists one log record immediately, no batching: each record
// is durably visible essentially as soon as the journal produces it.
func (w *Writer) InsertLog(ctx context.Context, rec LogRecord) error {
	start := time.Now()

	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("encode overflow fields: %w", err)
	}

	traceSQL(insertLogSQL)
	_, err = w.logConn.ExecContext(ctx, insertLogSQL,
		rec.Timestamp, rec.MinuteKey, rec.Message, nullablePriority(rec.Priority),
		nullString(rec.Hostname), nullString(rec.Unit), nullString(rec.PID),
		nullString(rec.Comm), string(fields),
	)
	if err != nil {
		return fmt.Errorf("insert log record: %w", err)
	}

	w.recordLatency(time.Since(start))
	w.logsWritten.Add(1)
	return nil
}

// BackfillLogs runs fn inside a single transaction on the log connection.
// fn receives an insert function for individual records. Used once at
// startup to replay a historical window without per-row commit overhead.
func (w *Writer) BackfillLogs(ctx context.Context, fn func(insert func(LogRecord) error) error) error {
	tx, err := w.logConn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin backfill transaction: %w", err)
	}

	insert := func(rec LogRecord) error {
		fields, err := json.Marshal(rec.Fields)
		if err != nil {
			return fmt.Errorf("encode overflow fields: %w", err)
		}
		_, err = tx.ExecContext(ctx, insertLogSQL,
			rec.Timestamp, rec.MinuteKey, rec.Message, nullablePriority(rec.Priority),
			nullString(rec.Hostname), nullString(rec.Unit), nullString(rec.PID),
			nullString(rec.Comm), string(fields),
		)
		if err != nil {
			return fmt.Errorf("insert log record: %w", err)
		}
		w.logsWritten.Add(1)
		return nil
	}

	if err := fn(insert); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit backfill: %w", err)
	}
	return nil
}

// InsertProcessBatch persists a batch of process samples in one explicit
// transaction and then checkpoints the connection. The checkpoint is a hard
// requirement: without it, committed data can sit in the write-ahead log
// invisible to a fresh connection.
//
// INSERT OR REPLACE enforces the (timestamp, pid) identity: a duplicate
// sample overwrites idempotently, never creating a second row.
//
// A single malformed record is logged and skipped; it does not abort the
// batch.
func (w *Writer) InsertProcessBatch(ctx context.Context, batch ProcessBatch) (int, error) {
	if len(batch.Processes) == 0 {
		return 0, nil
	}

	tx, err := w.metricConn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin metric transaction: %w", err)
	}

	const stmt = `INSERT OR REPLACE INTO process_metrics
		(timestamp, pid, name, cpu_percent, mem_bytes, user_id, runtime_secs)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	traceSQL(stmt)

	written := 0
	for _, p := range batch.Processes {
		if p.PID < 0 {
			w.log.Warn("skipping malformed process record", "pid", p.PID, "name", p.Name)
			w.rowsSkipped.Add(1)
			continue
		}

		ts := p.Timestamp
		if ts.IsZero() {
			ts = batch.Timestamp
		}

		if _, err := tx.ExecContext(ctx, stmt,
			ts, p.PID, p.Name, p.CPUPercent, p.MemBytes,
			nullString(p.UserID), p.RuntimeSecs,
		); err != nil {
			// One bad row must not sink the batch.
			w.log.Warn("skipping unpersistable process record",
				"pid", p.PID, "name", p.Name, "error", err)
			w.rowsSkipped.Add(1)
			continue
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit metric batch: %w", err)
	}

	traceSQL("CHECKPOINT")
	if _, err := w.metricConn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return written, fmt.Errorf("checkpoint after metric batch: %w", err)
	}

	w.batchesWritten.Add(1)
	w.rowsWritten.Add(int64(written))
	return written, nil
}

// Checkpoint flushes the log connection. Called at shutdown so the final
// records survive the process.
func (w *Writer) Checkpoint(ctx context.Context) error {
	traceSQL("CHECKPOINT")
	if _, err := w.logConn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("checkpoint log connection: %w", err)
	}
	return nil
}

// WriterStats is a snapshot of write-path counters.
type WriterStats struct {
	LogsWritten    int64   `json:"logs_written"`
	BatchesWritten int64   `json:"batches_written"`
	RowsWritten    int64   `json:"rows_written"`
	RowsSkipped    int64   `json:"rows_skipped"`
	InsertP50Ms    float64 `json:"insert_p50_ms"`
	InsertP95Ms    float64 `json:"insert_p95_ms"`
	InsertP99Ms    float64 `json:"insert_p99_ms"`
}

// Stats returns current write-path statistics, including insert latency
// percentiles from the sketch.
func (w *Writer) Stats() WriterStats {
	stats := WriterStats{
		LogsWritten:    w.logsWritten.Load(),
		BatchesWritten: w.batchesWritten.Load(),
		RowsWritten:    w.rowsWritten.Load(),
		RowsSkipped:    w.rowsSkipped.Load(),
	}

	w.sketchMu.Lock()
	defer w.sketchMu.Unlock()

	if w.sketch.GetCount() > 0 {
		qs, err := w.sketch.GetValuesAtQuantiles([]float64{0.5, 0.95, 0.99})
		if err == nil && len(qs) == 3 {
			stats.InsertP50Ms = qs[0]
			stats.InsertP95Ms = qs[1]
			stats.InsertP99Ms = qs[2]
		}
	}

	return stats
}

func (w *Writer) recordLatency(d time.Duration) {
	w.sketchMu.Lock()
	defer w.sketchMu.Unlock()
	w.sketch.Add(float64(d.Microseconds()) / 1000.0)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullablePriority(p int) any {
	if p < 0 || p > 7 {
		return nil
	}
	return p
}
