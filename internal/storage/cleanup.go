package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	liverrors "github.com/xtxerr/livedata/internal/errors"
	"github.com/xtxerr/livedata/internal/logging"
)

// Cleanup interval bounds. A misconfigured interval is clamped into this
// range rather than rejected, so retention can never be effectively
// disabled or turned into a busy loop.
const (
	minCleanupInterval = 5 * time.Minute
	maxCleanupInterval = 15 * time.Minute
)

// SchedulerState reports what the cleanup loop is doing.
type SchedulerState int32

const (
	SchedulerIdle SchedulerState = iota
	SchedulerRunning
	SchedulerStopped
)

func (s SchedulerState) String() string {
	switch s {
	case SchedulerIdle:
		return "idle"
	case SchedulerRunning:
		return "running"
	case SchedulerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Scheduler drives the retention engine on a fixed interval. The first
// cycle runs immediately at start; after that one cycle per interval
// tick. The stop signal is consulted strictly between cycles: a cycle in
// flight always runs to completion, so the database is never left with a
// half-applied retention pass.
type Scheduler struct {
	engine   *Engine
	policy   func() Policy
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	state   SchedulerState
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun time.Time
	lastErr error
	cycles  int64
}

// NewScheduler creates a scheduler. policy is re-read at the start of
// each cycle so configuration changes take effect without a restart.
// The interval is clamped to [minCleanupInterval, maxCleanupInterval]
// whatever the caller asks for.
func NewScheduler(engine *Engine, policy func() Policy, interval time.Duration) *Scheduler {
	if interval < minCleanupInterval {
		interval = minCleanupInterval
	}
	if interval > maxCleanupInterval {
		interval = maxCleanupInterval
	}
	return &Scheduler{
		engine:   engine,
		policy:   policy,
		interval: interval,
		log:      logging.Component("cleanup"),
	}
}

// Start launches the cleanup loop. The first cycle begins immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return liverrors.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = SchedulerIdle

	s.log.Info("cleanup scheduler starting", "interval", s.interval)
	go s.loop(ctx)
	return nil
}

// Stop requests shutdown and waits for the loop to exit. If a cycle is
// running it finishes first; Stop blocks until then.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// State returns the loop's current state.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastCycle reports the start time and outcome of the most recent cycle.
func (s *Scheduler) LastCycle() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

func (s *Scheduler) setState(st SchedulerState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer func() {
		s.setState(SchedulerStopped)
		s.mu.Lock()
		close(s.done)
		s.done = nil
		s.cancel = nil
		s.mu.Unlock()
		s.log.Info("cleanup scheduler stopped")
	}()

	// First cycle runs right away so a long-stopped machine reclaims
	// space before the first full interval elapses.
	s.runCycle()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Re-check after the tick: a stop that raced the tick
			// wins, and no new cycle starts.
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.runCycle()
		}
	}
}

// runCycle executes one full retention pass. It deliberately uses a
// background context: cancellation applies to the loop, never to a cycle
// already underway.
func (s *Scheduler) runCycle() {
	s.setState(SchedulerRunning)
	defer s.setState(SchedulerIdle)

	started := time.Now()
	stats, err := s.engine.Enforce(context.Background(), s.policy())

	s.mu.Lock()
	s.lastRun = started
	s.lastErr = err
	s.cycles++
	s.mu.Unlock()

	if err != nil {
		// A failed cycle is logged and the loop keeps going; the next
		// interval gets another chance.
		s.log.Error("retention cycle failed", "error", err)
		return
	}

	if stats.TotalDeleted() > 0 {
		s.log.Info("retention cycle finished",
			"logs_deleted", stats.LogsDeleted,
			"processes_deleted", stats.ProcessesDeleted,
			"bytes_reclaimed", stats.BytesReclaimed,
			"duration", time.Since(started).Round(time.Millisecond))
	} else {
		s.log.Debug("retention cycle finished, nothing to delete",
			"duration", time.Since(started).Round(time.Millisecond))
	}
}
