//go:build linux

package journal

import (
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/sdjournal"

	"github.com/xtxerr/livedata/internal/logging"
)

var log = logging.Component("journal")

// Reader tails the systemd journal and converts raw entries to Entry
// values. It is a lazy, restartable sequence: callers alternate Wait and
// Next, optionally backfilling a recent window first.
//
// Reader is not safe for concurrent use; the collector drives it from a
// single goroutine.
type Reader struct {
	j *sdjournal.Journal
}

// NewReader opens the local journal (system and current user).
func NewReader() (*Reader, error) {
	j, err := sdjournal.NewJournal()
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	log.Info("journal reader initialized")
	return &Reader{j: j}, nil
}

// Close releases the underlying journal handle.
func (r *Reader) Close() error {
	return r.j.Close()
}

// SeekTail positions the cursor past the newest entry, then steps back one
// so the next call to Next returns the first entry written after this call.
func (r *Reader) SeekTail() error {
	if err := r.j.SeekTail(); err != nil {
		return fmt.Errorf("seek tail: %w", err)
	}
	if _, err := r.j.PreviousSkip(1); err != nil {
		return fmt.Errorf("previous skip: %w", err)
	}
	return nil
}

// Wait blocks until new entries may be available or the timeout elapses.
// It returns true when the journal signalled new or rotated data.
func (r *Reader) Wait(timeout time.Duration) bool {
	switch r.j.Wait(timeout) {
	case sdjournal.SD_JOURNAL_APPEND, sdjournal.SD_JOURNAL_INVALIDATE:
		return true
	default:
		return false
	}
}

// Next advances the cursor and returns the next entry, or nil when the
// cursor is at the end of the journal.
func (r *Reader) Next() (*Entry, error) {
	n, err := r.j.Next()
	if err != nil {
		return nil, fmt.Errorf("advance journal: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	raw, err := r.j.GetEntry()
	if err != nil {
		return nil, fmt.Errorf("read journal entry: %w", err)
	}

	entry := convertEntry(raw)
	return &entry, nil
}

// Backfill seeks to the given time and replays all entries up to the
// current end of the journal through fn, returning the count processed.
// Afterwards the cursor is positioned at the tail for live follow.
//
// A malformed entry is skipped, never aborts the backfill.
func (r *Reader) Backfill(since time.Time, fn func(Entry) error) (int, error) {
	usec := uint64(since.UnixMicro())
	if err := r.j.SeekRealtimeUsec(usec); err != nil {
		return 0, fmt.Errorf("seek realtime: %w", err)
	}

	count := 0
	for {
		n, err := r.j.Next()
		if err != nil {
			return count, fmt.Errorf("advance journal: %w", err)
		}
		if n == 0 {
			break
		}

		raw, err := r.j.GetEntry()
		if err != nil {
			log.Warn("skipping unreadable journal entry", "error", err)
			continue
		}

		if err := fn(convertEntry(raw)); err != nil {
			return count, err
		}
		count++
	}

	if err := r.SeekTail(); err != nil {
		return count, err
	}

	return count, nil
}

// convertEntry maps an sdjournal entry to our model. The realtime timestamp
// is microseconds since epoch; entries without one get the current time.
func convertEntry(raw *sdjournal.JournalEntry) Entry {
	ts := time.Now().UTC()
	if raw.RealtimeTimestamp > 0 {
		ts = time.UnixMicro(int64(raw.RealtimeTimestamp)).UTC()
	}

	fields := make(map[string]string, len(raw.Fields))
	for k, v := range raw.Fields {
		fields[k] = v
	}

	return NewEntry(ts, fields)
}
