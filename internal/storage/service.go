package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	liverrors "github.com/xtxerr/livedata/internal/errors"
	"github.com/xtxerr/livedata/internal/logging"
)

// Service owns the database exclusively and wires the storage components
// together: store, schema migration, the two write paths, the read path,
// and the cleanup scheduler. Startup order is backup, open, migrate; a
// failure in any of those is fatal and the caller should exit.
type Service struct {
	opts   Options
	store  *Store
	writer *Writer
	query  *Query
	engine *Engine
	sched  *Scheduler
	log    *slog.Logger

	metricCh chan ProcessBatch
	dropped  int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New backs up, opens, and migrates the database, then assembles the
// service. The returned service is not yet running; call Start.
func New(ctx context.Context, opts Options) (*Service, error) {
	if opts.Policy == nil {
		// A missing policy must never degrade into the zero value: zero
		// retention days reads as "delete everything now".
		return nil, fmt.Errorf("%w: retention policy is required", liverrors.ErrInvalidConfig)
	}
	opts.applyDefaults()

	log := logging.Component("storage")

	// Copy the database aside before touching the schema, so a botched
	// migration can be recovered by hand from the .bak file.
	if err := Backup(opts.Path); err != nil {
		return nil, err
	}

	store, err := Open(opts.Path)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}

	writer, err := NewWriter(ctx, store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create writer: %w", err)
	}

	engine := NewEngine(store)

	s := &Service{
		opts:     opts,
		store:    store,
		writer:   writer,
		query:    NewQuery(store, writer, opts.Policy),
		engine:   engine,
		sched:    NewScheduler(engine, opts.Policy, opts.CleanupInterval),
		log:      log,
		metricCh: make(chan ProcessBatch, opts.QueueSize),
	}

	log.Info("storage service ready",
		"path", opts.Path,
		"schema_version", LatestVersion(),
		"queue_size", opts.QueueSize)
	return s, nil
}

// Start launches the metric drain worker and the cleanup scheduler.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return liverrors.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.drainMetrics()

	if err := s.sched.Start(ctx); err != nil {
		cancel()
		s.running = false
		return err
	}

	s.log.Info("storage service started")
	return nil
}

// Stop shuts the service down in order: stop accepting work, let the
// cleanup scheduler finish any cycle in flight, drain queued metric
// batches, checkpoint, and close the database.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return liverrors.ErrNotRunning
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	s.sched.Stop()
	cancel()

	// Closing under the lock pairs with OfferProcessBatch, which sends
	// under the same lock; no producer can hit a closed channel.
	s.mu.Lock()
	close(s.metricCh)
	s.mu.Unlock()
	s.wg.Wait()

	ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()

	if err := s.writer.Checkpoint(ctx); err != nil {
		s.log.Warn("final checkpoint failed", "error", err)
	}
	s.writer.Close()

	err := s.store.Close()
	s.log.Info("storage service stopped")
	return err
}

// InsertLog writes a single log record on the dedicated log connection.
func (s *Service) InsertLog(ctx context.Context, rec LogRecord) error {
	return s.writer.InsertLog(ctx, rec)
}

// BackfillLogs applies many log inserts in one transaction.
func (s *Service) BackfillLogs(ctx context.Context, fn func(insert func(LogRecord) error) error) error {
	return s.writer.BackfillLogs(ctx, fn)
}

// OfferProcessBatch hands a batch to the metric queue without blocking.
// When the queue is full the batch is dropped and ErrQueueFull returned;
// process samples are periodic and a fresh one arrives shortly.
func (s *Service) OfferProcessBatch(batch ProcessBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return liverrors.ErrNotRunning
	}

	select {
	case s.metricCh <- batch:
		return nil
	default:
		s.dropped++
		s.log.Warn("metric queue full, dropping batch",
			"batch_time", batch.Timestamp, "dropped_total", s.dropped)
		return liverrors.ErrQueueFull
	}
}

func (s *Service) drainMetrics() {
	defer s.wg.Done()

	for batch := range s.metricCh {
		// Writes already dequeued run to completion even during
		// shutdown; Stop closes the channel and waits for the drain.
		if _, err := s.writer.InsertProcessBatch(context.Background(), batch); err != nil {
			s.log.Error("process batch insert failed",
				"batch_time", batch.Timestamp, "error", err)
		}
	}
}

// EnforceRetention runs one retention pass outside the scheduler, for
// operator-triggered cleanup.
func (s *Service) EnforceRetention(ctx context.Context) (RetentionStats, error) {
	return s.engine.Enforce(ctx, s.opts.Policy())
}

// Search executes a bounded log search.
func (s *Service) Search(ctx context.Context, p SearchParams) (*SearchResponse, error) {
	return s.query.Search(ctx, p)
}

// Filters lists distinct filterable values.
func (s *Service) Filters(ctx context.Context, labelFor func(int) string) (*FilterValues, error) {
	return s.query.Filters(ctx, labelFor)
}

// ProcessSnapshot returns the latest process sample set.
func (s *Service) ProcessSnapshot(ctx context.Context, limit int) ([]ProcessRecord, error) {
	return s.query.ProcessSnapshot(ctx, limit)
}

// QuerySQL runs an ad-hoc read query with a row cap.
func (s *Service) QuerySQL(ctx context.Context, sql string, rowCap int) ([]map[string]any, error) {
	return s.query.QuerySQL(ctx, sql, rowCap)
}

// Health returns the current health snapshot.
func (s *Service) Health(ctx context.Context) (*HealthSnapshot, error) {
	return s.query.Health(ctx)
}

// SchedulerState reports the cleanup loop state.
func (s *Service) SchedulerState() SchedulerState {
	return s.sched.State()
}

// WriterStats exposes write-path counters and latency percentiles.
func (s *Service) WriterStats() WriterStats {
	return s.writer.Stats()
}

// Store exposes the underlying store for the export path.
func (s *Service) Store() *Store {
	return s.store
}
