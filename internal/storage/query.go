package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	liverrors "github.com/xtxerr/livedata/internal/errors"
	"github.com/xtxerr/livedata/internal/logging"
)

// MaxSearchRows bounds any single search result set; the design
// materializes results rather than streaming them.
const MaxSearchRows = 10000

// Query is the read path: search, filter listing, health statistics, and
// bounded ad-hoc SQL. It shares the store's connection pool with the
// writers; DuckDB's isolation guarantees a query never observes a
// half-committed write or a partially deleted table.
type Query struct {
	store  *Store
	writer *Writer
	policy func() Policy
	log    *slog.Logger
}

// NewQuery creates the read path over a store. writer and policy feed the
// health snapshot and may be nil in tests.
func NewQuery(store *Store, writer *Writer, policy func() Policy) *Query {
	return &Query{
		store:  store,
		writer: writer,
		policy: policy,
		log:    logging.Component("query"),
	}
}

// SearchParams selects and orders log rows.
type SearchParams struct {
	// Text is matched case-insensitively against the message column.
	Text string

	// Start/End bound the time range. Zero values mean unbounded.
	Start time.Time
	End   time.Time

	// Hostnames/Units filter to the given sets when non-empty.
	Hostnames []string
	Units     []string

	// MaxPriority keeps rows at or below this syslog priority; -1 disables.
	MaxPriority int

	// Limit caps the result set; clamped to MaxSearchRows. Offset pages.
	Limit  int
	Offset int

	// SortColumn is one of timestamp, hostname, unit, priority, comm.
	// SortDesc orders descending.
	SortColumn string
	SortDesc   bool
}

// SearchResult is one matched log row.
type SearchResult struct {
	Timestamp time.Time `json:"timestamp"`
	Hostname  string    `json:"hostname,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	Priority  *int      `json:"priority,omitempty"`
	PID       string    `json:"pid,omitempty"`
	Comm      string    `json:"comm,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// SearchResponse is a page of search results.
type SearchResponse struct {
	Results     []SearchResult `json:"results"`
	Total       int            `json:"total"`
	Limit       int            `json:"limit"`
	Offset      int            `json:"offset"`
	QueryTimeMs int64          `json:"query_time_ms"`
}

var sortColumns = map[string]string{
	"timestamp": "timestamp",
	"hostname":  "hostname",
	"host":      "hostname",
	"unit":      "unit",
	"priority":  "priority",
	"pri":       "priority",
	"comm":      "comm",
}

// Search executes a bounded log search. A database without the log table
// yet returns an empty page, not an error.
func (q *Query) Search(ctx context.Context, p SearchParams) (*SearchResponse, error) {
	started := time.Now()

	limit := p.Limit
	if limit <= 0 || limit > MaxSearchRows {
		limit = MaxSearchRows
	}

	resp := &SearchResponse{
		Results: []SearchResult{},
		Limit:   limit,
		Offset:  p.Offset,
	}

	exists, err := q.store.TableExists(ctx, TableLogs)
	if err != nil {
		return nil, err
	}
	if !exists {
		resp.QueryTimeMs = time.Since(started).Milliseconds()
		return resp, nil
	}

	var sb strings.Builder
	var args []any

	sb.WriteString(`SELECT timestamp, hostname, unit, priority, pid, comm, message
		FROM journal_logs WHERE 1=1`)

	if !p.Start.IsZero() {
		sb.WriteString(" AND timestamp >= ?")
		args = append(args, p.Start.UTC())
	}
	if !p.End.IsZero() {
		sb.WriteString(" AND timestamp < ?")
		args = append(args, p.End.UTC())
	}
	if p.Text != "" {
		sb.WriteString(` AND message ILIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(p.Text)+"%")
	}
	if len(p.Hostnames) > 0 {
		sb.WriteString(" AND hostname IN (" + placeholders(len(p.Hostnames)) + ")")
		for _, h := range p.Hostnames {
			args = append(args, h)
		}
	}
	if len(p.Units) > 0 {
		sb.WriteString(" AND unit IN (" + placeholders(len(p.Units)) + ")")
		for _, u := range p.Units {
			args = append(args, u)
		}
	}
	if p.MaxPriority >= 0 {
		sb.WriteString(" AND priority <= ?")
		args = append(args, p.MaxPriority)
	}

	column, ok := sortColumns[strings.ToLower(p.SortColumn)]
	if !ok {
		column = "timestamp"
	}
	direction := "ASC"
	if p.SortDesc {
		direction = "DESC"
	}
	sb.WriteString(fmt.Sprintf(" ORDER BY %s %s LIMIT ? OFFSET ?", column, direction))
	args = append(args, limit, p.Offset)

	rows, err := q.store.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r SearchResult
		var hostname, unit, pid, comm, message *string
		var priority *int

		if err := rows.Scan(&r.Timestamp, &hostname, &unit, &priority, &pid, &comm, &message); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}

		r.Hostname = deref(hostname)
		r.Unit = deref(unit)
		r.PID = deref(pid)
		r.Comm = deref(comm)
		r.Message = deref(message)
		r.Priority = priority

		resp.Results = append(resp.Results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	resp.Total = len(resp.Results)
	resp.QueryTimeMs = time.Since(started).Milliseconds()
	return resp, nil
}

// FilterValues lists the distinct values offered as search filters.
type FilterValues struct {
	Hostnames  []string         `json:"hostnames"`
	Units      []string         `json:"units"`
	Priorities []PriorityOption `json:"priorities"`
}

// PriorityOption pairs a syslog priority with its label.
type PriorityOption struct {
	Value int    `json:"value"`
	Label string `json:"label"`
}

// Filters returns distinct hostnames and units plus the static priority
// scale. Missing tables yield empty lists.
func (q *Query) Filters(ctx context.Context, labelFor func(int) string) (*FilterValues, error) {
	fv := &FilterValues{Hostnames: []string{}, Units: []string{}}

	exists, err := q.store.TableExists(ctx, TableLogs)
	if err != nil {
		return nil, err
	}

	if exists {
		fv.Hostnames, err = q.distinct(ctx, "hostname")
		if err != nil {
			return nil, err
		}
		fv.Units, err = q.distinct(ctx, "unit")
		if err != nil {
			return nil, err
		}
	}

	for p := 0; p <= 7; p++ {
		fv.Priorities = append(fv.Priorities, PriorityOption{
			Value: p,
			Label: fmt.Sprintf("%d - %s", p, labelFor(p)),
		})
	}

	return fv, nil
}

func (q *Query) distinct(ctx context.Context, column string) ([]string, error) {
	rows, err := q.store.QueryContext(ctx,
		"SELECT DISTINCT "+column+" FROM journal_logs WHERE "+column+
			" IS NOT NULL ORDER BY "+column)
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", column, err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// ProcessSnapshot returns the most recent sample set, ordered by CPU usage.
func (q *Query) ProcessSnapshot(ctx context.Context, limit int) ([]ProcessRecord, error) {
	exists, err := q.store.TableExists(ctx, TableProcesses)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []ProcessRecord{}, nil
	}

	if limit <= 0 || limit > MaxSearchRows {
		limit = MaxSearchRows
	}

	rows, err := q.store.QueryContext(ctx, `
		SELECT timestamp, pid, name, cpu_percent, mem_bytes, user_id, runtime_secs
		FROM process_metrics
		WHERE timestamp = (SELECT max(timestamp) FROM process_metrics)
		ORDER BY cpu_percent DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query process snapshot: %w", err)
	}
	defer rows.Close()

	records := []ProcessRecord{}
	for rows.Next() {
		var r ProcessRecord
		var name, userID *string
		if err := rows.Scan(&r.Timestamp, &r.PID, &name, &r.CPUPercent,
			&r.MemBytes, &userID, &r.RuntimeSecs); err != nil {
			return nil, fmt.Errorf("scan process row: %w", err)
		}
		r.Name = deref(name)
		r.UserID = deref(userID)
		records = append(records, r)
	}
	return records, rows.Err()
}

// QuerySQL executes an ad-hoc read query with a row cap. Errors are
// returned to the caller; they never crash the process or other queries.
func (q *Query) QuerySQL(ctx context.Context, query string, rowCap int) ([]map[string]any, error) {
	if rowCap <= 0 || rowCap > MaxSearchRows {
		rowCap = MaxSearchRows
	}

	rows, err := q.store.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", liverrors.ErrInvalidQuery, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]any
	for rows.Next() {
		if len(results) >= rowCap {
			break
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// HealthSnapshot is an on-demand view of database health. Counts and
// min/max scans cost time proportional to table size; acceptable because
// health is polled at a slow cadence, not on the hot path.
type HealthSnapshot struct {
	SizeBytes   int64       `json:"size_bytes"`
	LogRows     int64       `json:"log_rows"`
	ProcessRows int64       `json:"process_rows"`
	OldestLog   *time.Time  `json:"oldest_log,omitempty"`
	NewestLog   *time.Time  `json:"newest_log,omitempty"`
	Policy      Policy      `json:"policy"`
	WriterStats WriterStats `json:"writer"`
	SchemaVer   int         `json:"schema_version"`
}

// Health computes the current health snapshot.
func (q *Query) Health(ctx context.Context) (*HealthSnapshot, error) {
	snap := &HealthSnapshot{SizeBytes: q.store.FileSize()}

	var err error
	if snap.LogRows, err = q.store.RowCount(ctx, TableLogs); err != nil {
		return nil, err
	}
	if snap.ProcessRows, err = q.store.RowCount(ctx, TableProcesses); err != nil {
		return nil, err
	}
	if snap.SchemaVer, err = q.store.CurrentVersion(ctx); err != nil {
		return nil, err
	}

	if snap.LogRows > 0 {
		var oldest, newest time.Time
		err := q.store.QueryRowContext(ctx,
			"SELECT min(timestamp), max(timestamp) FROM journal_logs",
		).Scan(&oldest, &newest)
		if err != nil {
			return nil, fmt.Errorf("log time range: %w", err)
		}
		snap.OldestLog = &oldest
		snap.NewestLog = &newest
	}

	if q.policy != nil {
		snap.Policy = q.policy()
	}
	if q.writer != nil {
		snap.WriterStats = q.writer.Stats()
	}

	return snap, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
