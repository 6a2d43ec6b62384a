// Package collector ties the ingest pipeline together: it backfills a
// recent journal window, follows the journal live, and runs the process
// monitor, all feeding the storage service.
package collector

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	liverrors "github.com/xtxerr/livedata/internal/errors"
	"github.com/xtxerr/livedata/internal/journal"
	"github.com/xtxerr/livedata/internal/logging"
	"github.com/xtxerr/livedata/internal/procmon"
	"github.com/xtxerr/livedata/internal/storage"
)

// How far back the startup backfill reaches.
const backfillWindow = time.Hour

// How long one follow iteration waits for journal activity. Short enough
// that shutdown is prompt even on a silent journal.
const waitSlice = 100 * time.Millisecond

// How often the follow loop logs ingest progress.
const statusInterval = 30 * time.Second

// Source is the journal feed the controller follows. *journal.Reader
// satisfies it on Linux.
type Source interface {
	SeekTail() error
	Wait(timeout time.Duration) bool
	Next() (*journal.Entry, error)
	Backfill(since time.Time, fn func(journal.Entry) error) (int, error)
	Close() error
}

// Controller runs the ingest side of the daemon.
type Controller struct {
	storage      *storage.Service
	source       Source
	monitor      *procmon.Monitor
	skipBackfill bool
	log          *slog.Logger

	ingested atomic.Int64
	failed   atomic.Int64
}

// Options configures the controller.
type Options struct {
	// Source is the journal feed. Nil disables log ingestion entirely.
	Source Source

	// SkipBackfill starts the live follow directly from the journal tail
	// without replaying the recent history window first.
	SkipBackfill bool

	// ProcessInterval is the process sampling cadence. Zero disables the
	// process monitor.
	ProcessInterval time.Duration
}

// New assembles a controller over the storage service.
func New(svc *storage.Service, opts Options) *Controller {
	c := &Controller{
		storage:      svc,
		source:       opts.Source,
		skipBackfill: opts.SkipBackfill,
		log:          logging.Component("collector"),
	}

	if opts.ProcessInterval > 0 {
		c.monitor = procmon.New(opts.ProcessInterval, svc.OfferProcessBatch)
	}
	return c
}

// Run ingests until ctx is cancelled. The journal backfill happens first
// so the follow loop starts from a complete recent window; then the
// follow loop and the process monitor run concurrently. The follow loop
// always runs when a source exists; SkipBackfill only trades the history
// window for a faster start. Run returns the first worker error, or nil
// on clean cancellation.
func (c *Controller) Run(ctx context.Context) error {
	if c.source != nil {
		if c.skipBackfill {
			if err := c.source.SeekTail(); err != nil {
				return err
			}
		} else if err := c.backfill(ctx); err != nil {
			// A failed backfill loses history, not liveness; follow
			// still starts from the tail.
			c.log.Error("journal backfill failed", "error", err)
			if err := c.source.SeekTail(); err != nil {
				return err
			}
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if c.source != nil {
		g.Go(func() error { return c.followJournal(ctx) })
	}
	if c.monitor != nil {
		g.Go(func() error {
			err := c.monitor.Run(ctx)
			if liverrors.Is(err, context.Canceled) || liverrors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

// backfill replays the last hour of journal entries in one transaction.
func (c *Controller) backfill(ctx context.Context) error {
	since := time.Now().UTC().Add(-backfillWindow)
	c.log.Info("backfilling journal window", "since", since)

	started := time.Now()
	var count int
	err := c.storage.BackfillLogs(ctx, func(insert func(storage.LogRecord) error) error {
		n, err := c.source.Backfill(since, func(entry journal.Entry) error {
			return insert(entryToRecord(entry))
		})
		count = n
		return err
	})
	if err != nil {
		return err
	}

	c.ingested.Add(int64(count))
	c.log.Info("journal backfill complete",
		"entries", count, "duration", time.Since(started).Round(time.Millisecond))
	return nil
}

// followJournal tails the journal until ctx is cancelled, draining every
// available entry after each wakeup and reporting progress periodically.
func (c *Controller) followJournal(ctx context.Context) error {
	c.log.Info("following journal")
	lastStatus := time.Now()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("journal follow stopping",
				"entries_ingested", c.ingested.Load())
			return nil
		default:
		}

		c.source.Wait(waitSlice)

		if err := c.drain(ctx); err != nil {
			return err
		}

		if time.Since(lastStatus) >= statusInterval {
			stats := c.storage.WriterStats()
			c.log.Info("ingest status",
				"entries_ingested", c.ingested.Load(),
				"entries_failed", c.failed.Load(),
				"insert_p95_ms", stats.InsertP95Ms)
			lastStatus = time.Now()
		}
	}
}

// drain consumes every entry currently available. A failed read or insert
// on one entry is counted and skipped; the journal keeps flowing.
func (c *Controller) drain(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		entry, err := c.source.Next()
		if err != nil {
			c.failed.Add(1)
			c.log.Warn("journal read failed", "error", err)
			return nil
		}
		if entry == nil {
			return nil
		}

		if err := c.storage.InsertLog(ctx, entryToRecord(*entry)); err != nil {
			c.failed.Add(1)
			c.log.Warn("log insert failed", "error", err)
			continue
		}
		c.ingested.Add(1)
	}
}

// Stats reports ingest counters.
func (c *Controller) Stats() (ingested, failed int64) {
	return c.ingested.Load(), c.failed.Load()
}

// Monitor exposes the process monitor, or nil when sampling is disabled.
func (c *Controller) Monitor() *procmon.Monitor {
	return c.monitor
}

func entryToRecord(e journal.Entry) storage.LogRecord {
	return storage.LogRecord{
		Timestamp: e.Timestamp,
		MinuteKey: e.MinuteKey(),
		Message:   e.Message(),
		Priority:  e.Priority(),
		Hostname:  e.Hostname(),
		Unit:      e.Unit(),
		PID:       e.PID(),
		Comm:      e.Comm(),
		Fields:    e.Overflow(),
	}
}
