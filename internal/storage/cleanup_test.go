package storage

import (
	"context"
	"testing"
	"time"
)

func TestSchedulerClampsInterval(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"below minimum", time.Minute, minCleanupInterval},
		{"zero", 0, minCleanupInterval},
		{"above maximum", time.Hour, maxCleanupInterval},
		{"within range", 10 * time.Minute, 10 * time.Minute},
	}

	// The clamp lives in the scheduler itself so a programmatic caller
	// cannot bypass the config layer's normalization.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched := NewScheduler(nil, generousPolicy, tt.in)
			if sched.interval != tt.want {
				t.Errorf("interval = %v, want %v", sched.interval, tt.want)
			}
		})
	}
}

func TestSchedulerFirstCycleImmediate(t *testing.T) {
	store := newTestStore(t)
	seedLogsAt(t, store, day(40))

	sched := NewScheduler(NewEngine(store), generousPolicy, time.Hour)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sched.Stop()

	// The first cycle starts at launch, not after the first hour-long
	// interval. Poll briefly for it to finish.
	deadline := time.Now().Add(5 * time.Second)
	for {
		last, err := sched.LastCycle()
		if !last.IsZero() {
			if err != nil {
				t.Fatalf("first cycle error: %v", err)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first cycle did not run at startup")
		}
		time.Sleep(10 * time.Millisecond)
	}

	count, err := store.RowCount(context.Background(), TableLogs)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expired rows remaining = %d, want 0", count)
	}
}

func TestSchedulerStopAndState(t *testing.T) {
	store := newTestStore(t)

	sched := NewScheduler(NewEngine(store), generousPolicy, time.Hour)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sched.Start(context.Background()); err == nil {
		t.Error("second start succeeded, want ErrAlreadyRunning")
	}

	sched.Stop()
	if got := sched.State(); got != SchedulerStopped {
		t.Errorf("state after stop = %v, want stopped", got)
	}

	// Stop on a stopped scheduler must not hang or panic.
	sched.Stop()
}

func TestSchedulerCycleErrorKeepsLoopAlive(t *testing.T) {
	// A closed store makes every cycle fail; the scheduler must log and
	// keep running rather than exit.
	store, err := Open(t.TempDir() + "/doomed.duckdb")
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	sched := NewScheduler(NewEngine(store), generousPolicy, 20*time.Millisecond)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if got := sched.State(); got == SchedulerStopped {
		t.Error("scheduler stopped after cycle errors, want it still running")
	}
	if _, err := sched.LastCycle(); err == nil {
		t.Error("expected an error from cycles on a closed store")
	}

	sched.Stop()
}
