package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/livedata/internal/storage"
)

func newTestExporter(t *testing.T) (*Exporter, *storage.Store) {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.Open(filepath.Join(dir, "db.duckdb"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}

	e, err := New(store, filepath.Join(dir, "parquet"))
	if err != nil {
		t.Fatal(err)
	}
	return e, store
}

func seedMinute(t *testing.T, store *storage.Store, minute time.Time, n int) {
	t.Helper()
	w, err := storage.NewWriter(context.Background(), store)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	for i := 0; i < n; i++ {
		rec := storage.LogRecord{
			Timestamp: minute.Add(time.Duration(i) * time.Second),
			MinuteKey: minute,
			Message:   "exported entry",
			Priority:  6,
			Hostname:  "host",
			Unit:      "unit.service",
		}
		if err := w.InsertLog(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}
}

func TestFilename(t *testing.T) {
	minute := time.Date(2026, 1, 17, 14, 30, 0, 0, time.UTC)
	if got := Filename(minute); got != "20260117-1430-journald.parquet" {
		t.Errorf("filename = %q", got)
	}
}

func TestPathForLayout(t *testing.T) {
	e, _ := newTestExporter(t)

	minute := time.Date(2026, 1, 17, 14, 30, 0, 0, time.UTC)
	path, err := e.PathFor(minute)
	if err != nil {
		t.Fatal(err)
	}

	want := filepath.Join(e.baseDir, e.Hostname(), "2026", "01", "17",
		"20260117-1430-journald.parquet")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("date directory not created: %v", err)
	}
}

func TestExportMinuteRoundTrip(t *testing.T) {
	e, store := newTestExporter(t)
	ctx := context.Background()

	minute := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Minute)
	seedMinute(t, store, minute, 5)

	res, err := e.ExportMinute(ctx, minute)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Skipped {
		t.Fatal("fresh export reported skipped")
	}
	if res.Rows != 5 {
		t.Errorf("rows = %d, want 5", res.Rows)
	}
	if res.Bytes <= 0 {
		t.Errorf("bytes = %d, want > 0", res.Bytes)
	}

	f, err := os.Open(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	info, _ := f.Stat()
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		t.Fatalf("open parquet: %v", err)
	}
	reader := parquet.NewGenericReader[LogRow](pf)
	defer reader.Close()

	rows := make([]LogRow, 5)
	n, _ := reader.Read(rows)
	if n != 5 {
		t.Fatalf("read back %d rows, want 5", n)
	}
	if rows[0].Message != "exported entry" {
		t.Errorf("message = %q", rows[0].Message)
	}
	if rows[0].MinuteKeyUs != minute.UnixMicro() {
		t.Errorf("minute key = %d, want %d", rows[0].MinuteKeyUs, minute.UnixMicro())
	}
}

func TestExportMinuteSkipsExistingFile(t *testing.T) {
	e, store := newTestExporter(t)
	ctx := context.Background()

	minute := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Minute)
	seedMinute(t, store, minute, 2)

	if _, err := e.ExportMinute(ctx, minute); err != nil {
		t.Fatal(err)
	}
	res, err := e.ExportMinute(ctx, minute)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Error("second export of the same minute not skipped")
	}
}

func TestExportRangeSkipsCurrentMinute(t *testing.T) {
	e, store := newTestExporter(t)
	ctx := context.Background()

	now := time.Now().UTC()
	complete := now.Add(-5 * time.Minute).Truncate(time.Minute)
	current := now.Truncate(time.Minute)
	seedMinute(t, store, complete, 3)
	seedMinute(t, store, current, 3)

	results, err := e.ExportRange(ctx, now.Add(-time.Hour), now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	if len(results) != 1 {
		t.Fatalf("exported %d minutes, want 1 (current minute still open)", len(results))
	}
	if !results[0].Minute.Equal(complete) {
		t.Errorf("exported minute = %v, want %v", results[0].Minute, complete)
	}
}

func TestDiskUsageAndFileCount(t *testing.T) {
	e, store := newTestExporter(t)
	ctx := context.Background()

	for i := 2; i <= 3; i++ {
		minute := time.Now().UTC().Add(-time.Duration(i) * time.Minute).Truncate(time.Minute)
		seedMinute(t, store, minute, 1)
		if _, err := e.ExportMinute(ctx, minute); err != nil {
			t.Fatal(err)
		}
	}

	count, err := e.FileCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("file count = %d, want 2", count)
	}

	usage, err := e.DiskUsage()
	if err != nil {
		t.Fatal(err)
	}
	if usage <= 0 {
		t.Errorf("disk usage = %d, want > 0", usage)
	}
}
