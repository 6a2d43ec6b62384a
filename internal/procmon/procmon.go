// Package procmon samples the local process table at a fixed interval and
// hands the samples to a sink for persistence. It keeps the latest sample
// set in memory for cheap snapshot reads.
package procmon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	liverrors "github.com/xtxerr/livedata/internal/errors"
	"github.com/xtxerr/livedata/internal/logging"
	"github.com/xtxerr/livedata/internal/storage"
)

// Sink receives one batch per sampling tick. Implementations must not
// block; a full queue is reported as ErrQueueFull and the batch dropped.
type Sink func(storage.ProcessBatch) error

// Monitor is the periodic process sampler.
type Monitor struct {
	interval time.Duration
	sink     Sink
	log      *slog.Logger

	mu       sync.Mutex
	snapshot []storage.ProcessRecord
}

// New creates a monitor sampling every interval. sink may be nil when only
// in-memory snapshots are wanted.
func New(interval time.Duration, sink Sink) *Monitor {
	return &Monitor{
		interval: interval,
		sink:     sink,
		log:      logging.Component("procmon"),
	}
}

// Run samples until ctx is cancelled. The first sample is taken after one
// interval, not at startup: per-process CPU percentages need a prior
// measurement to be meaningful.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("process monitor starting", "interval", m.interval)

	// Prime CPU accounting so the first published sample has real values.
	if _, err := m.sample(ctx); err != nil {
		m.log.Warn("priming sample failed", "error", err)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("process monitor stopping")
			return ctx.Err()
		case <-ticker.C:
			batch, err := m.sample(ctx)
			if err != nil {
				m.log.Warn("process sample failed", "error", err)
				continue
			}

			m.mu.Lock()
			m.snapshot = batch.Processes
			m.mu.Unlock()

			if m.sink == nil {
				continue
			}
			if err := m.sink(batch); err != nil {
				if liverrors.IsRetryable(err) {
					// The sink already logged the drop; the next tick
					// brings a fresh batch anyway.
					continue
				}
				m.log.Warn("process batch not accepted", "error", err)
			}
		}
	}
}

// Snapshot returns the most recent sample set. Empty before the first
// completed sampling tick.
func (m *Monitor) Snapshot() []storage.ProcessRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]storage.ProcessRecord, len(m.snapshot))
	copy(out, m.snapshot)
	return out
}

func (m *Monitor) sample(ctx context.Context) (storage.ProcessBatch, error) {
	now := time.Now().UTC()
	batch := storage.ProcessBatch{Timestamp: now}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return batch, fmt.Errorf("list processes: %w", err)
	}

	for _, p := range procs {
		rec, ok := recordFor(ctx, p, now)
		if !ok {
			// Process exited between listing and inspection; routine.
			continue
		}
		batch.Processes = append(batch.Processes, rec)
	}

	m.log.Debug("sampled process table", "count", len(batch.Processes))
	return batch, nil
}

// recordFor reads one process. Any unreadable attribute beyond the name is
// left zero rather than discarding the whole record.
func recordFor(ctx context.Context, p *process.Process, ts time.Time) (storage.ProcessRecord, bool) {
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return storage.ProcessRecord{}, false
	}

	rec := storage.ProcessRecord{
		Timestamp: ts,
		PID:       p.Pid,
		Name:      name,
	}

	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		rec.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		rec.MemBytes = int64(mem.RSS)
	}
	if uids, err := p.UidsWithContext(ctx); err == nil && len(uids) > 0 {
		rec.UserID = fmt.Sprintf("%d", uids[0])
	}
	if created, err := p.CreateTimeWithContext(ctx); err == nil && created > 0 {
		runtime := ts.Sub(time.UnixMilli(created))
		if runtime > 0 {
			rec.RuntimeSecs = int64(runtime.Seconds())
		}
	}

	return rec, true
}
