package storage

import "time"

// LogRecord is one journal entry as persisted to the journal_logs table:
// the promoted well-known columns plus a JSON overflow blob for everything
// else. Records are immutable after insert and destroyed only by the
// retention engine.
type LogRecord struct {
	// Timestamp is the event time, UTC. Never zero.
	Timestamp time.Time

	// MinuteKey is Timestamp truncated to the minute.
	MinuteKey time.Time

	// Promoted columns.
	Message  string
	Priority int // syslog priority 0-7, -1 when unknown (stored NULL)
	Hostname string
	Unit     string
	PID      string
	Comm     string

	// Fields holds the non-promoted journal fields, JSON-encoded on insert.
	Fields map[string]string
}

// ProcessRecord is one process sample at one point in time. The identity
// key is (Timestamp, PID); the storage layer enforces uniqueness.
type ProcessRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	PID         int32     `json:"pid"`
	Name        string    `json:"name"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemBytes    int64     `json:"mem_bytes"`
	UserID      string    `json:"user_id,omitempty"`
	RuntimeSecs int64     `json:"runtime_secs"`
}

// ProcessBatch is one sampling pass over all processes.
type ProcessBatch struct {
	Timestamp time.Time
	Processes []ProcessRecord
}

// Policy is the retention policy consumed by the retention engine. Values
// are assumed valid and positive; config validation guarantees that before
// a Policy is ever constructed.
type Policy struct {
	LogRetentionDays     int   `json:"log_retention_days"`
	LogMaxBytes          int64 `json:"log_max_bytes"`
	ProcessRetentionDays int   `json:"process_retention_days"`
	ProcessMaxBytes      int64 `json:"process_max_bytes"`
}

// RetentionStats is the result of one cleanup pass. Transient: returned to
// the caller and logged, never persisted.
type RetentionStats struct {
	LogsDeleted      int64 `json:"logs_deleted"`
	ProcessesDeleted int64 `json:"processes_deleted"`
	BytesReclaimed   int64 `json:"bytes_reclaimed"`
	Vacuumed         bool  `json:"vacuumed"`
}

// TotalDeleted returns the row count deleted across both data kinds.
func (s RetentionStats) TotalDeleted() int64 {
	return s.LogsDeleted + s.ProcessesDeleted
}

// Options configures the storage service.
type Options struct {
	// Path is the database file location. Parent directories are created
	// as needed.
	Path string

	// Policy returns the current retention policy. It is called fresh at
	// the start of every cleanup cycle. Required: a zero-valued Policy
	// would read as "retain nothing", so New refuses to run without one.
	Policy func() Policy

	// CleanupInterval is the cadence of the cleanup scheduler. Callers
	// clamp this to the supported range before handing it over.
	CleanupInterval time.Duration

	// QueueSize bounds the process-metric intake queue. Defaults to 32.
	QueueSize int
}

func (o *Options) applyDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 32
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = 10 * time.Minute
	}
}
