package storage

import (
	"context"
	"testing"
	"time"

	liverrors "github.com/xtxerr/livedata/internal/errors"
)

func seedSearchData(t *testing.T, store *Store) {
	t.Helper()
	w := newTestWriter(t, store)
	ctx := context.Background()
	now := time.Now().UTC()

	rows := []LogRecord{
		{Timestamp: now.Add(-3 * time.Hour), Message: "disk error on sda", Priority: 3, Hostname: "alpha", Unit: "smartd.service", Comm: "smartd"},
		{Timestamp: now.Add(-2 * time.Hour), Message: "started session", Priority: 6, Hostname: "alpha", Unit: "systemd-logind.service", Comm: "systemd-logind"},
		{Timestamp: now.Add(-1 * time.Hour), Message: "connection accepted", Priority: 6, Hostname: "beta", Unit: "sshd.service", Comm: "sshd"},
		{Timestamp: now.Add(-30 * time.Minute), Message: "DISK almost full", Priority: 4, Hostname: "beta", Unit: "monitor.service", Comm: "monitor"},
	}
	for _, r := range rows {
		r.MinuteKey = r.Timestamp.Truncate(time.Minute)
		if err := w.InsertLog(ctx, r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestSearchTextCaseInsensitive(t *testing.T) {
	store := newTestStore(t)
	seedSearchData(t, store)
	q := NewQuery(store, nil, nil)

	resp, err := q.Search(context.Background(), SearchParams{Text: "disk", MaxPriority: -1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("matches = %d, want 2 (case-insensitive)", resp.Total)
	}
}

func TestSearchFilters(t *testing.T) {
	store := newTestStore(t)
	seedSearchData(t, store)
	q := NewQuery(store, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		params SearchParams
		want   int
	}{
		{"by hostname", SearchParams{Hostnames: []string{"alpha"}, MaxPriority: -1}, 2},
		{"by hostname list", SearchParams{Hostnames: []string{"alpha", "beta"}, MaxPriority: -1}, 4},
		{"by unit", SearchParams{Units: []string{"sshd.service"}, MaxPriority: -1}, 1},
		{"by max priority", SearchParams{MaxPriority: 4}, 2},
		{"combined", SearchParams{Hostnames: []string{"beta"}, MaxPriority: 4}, 1},
		{"no match", SearchParams{Hostnames: []string{"gamma"}, MaxPriority: -1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := q.Search(ctx, tt.params)
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			if resp.Total != tt.want {
				t.Errorf("matches = %d, want %d", resp.Total, tt.want)
			}
		})
	}
}

func TestSearchTimeRange(t *testing.T) {
	store := newTestStore(t)
	seedSearchData(t, store)
	q := NewQuery(store, nil, nil)

	now := time.Now().UTC()
	resp, err := q.Search(context.Background(), SearchParams{
		Start:       now.Add(-90 * time.Minute),
		End:         now,
		MaxPriority: -1,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("matches in window = %d, want 2", resp.Total)
	}
}

func TestSearchSort(t *testing.T) {
	store := newTestStore(t)
	seedSearchData(t, store)
	q := NewQuery(store, nil, nil)
	ctx := context.Background()

	resp, err := q.Search(ctx, SearchParams{SortColumn: "priority", SortDesc: false, MaxPriority: -1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got := *resp.Results[0].Priority; got != 3 {
		t.Errorf("first priority ascending = %d, want 3", got)
	}

	// An unknown sort column falls back to timestamp rather than erroring
	// or interpolating unvalidated input.
	resp, err = q.Search(ctx, SearchParams{SortColumn: "fields; DROP TABLE journal_logs", MaxPriority: -1})
	if err != nil {
		t.Fatalf("search with bad sort: %v", err)
	}
	if resp.Total != 4 {
		t.Errorf("matches = %d, want 4", resp.Total)
	}
	for i := 1; i < len(resp.Results); i++ {
		if resp.Results[i].Timestamp.Before(resp.Results[i-1].Timestamp) {
			t.Error("fallback sort is not ascending by timestamp")
		}
	}
}

func TestSearchLimitClamp(t *testing.T) {
	store := newTestStore(t)
	seedSearchData(t, store)
	q := NewQuery(store, nil, nil)

	resp, err := q.Search(context.Background(), SearchParams{Limit: 999999, MaxPriority: -1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Limit != MaxSearchRows {
		t.Errorf("limit = %d, want clamped to %d", resp.Limit, MaxSearchRows)
	}

	resp, err = q.Search(context.Background(), SearchParams{Limit: 2, Offset: 1, MaxPriority: -1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("page size = %d, want 2", resp.Total)
	}
}

func TestSearchMissingTable(t *testing.T) {
	store, err := Open(t.TempDir() + "/bare.duckdb")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	q := NewQuery(store, nil, nil)
	resp, err := q.Search(context.Background(), SearchParams{Text: "anything", MaxPriority: -1})
	if err != nil {
		t.Fatalf("search on bare database: %v", err)
	}
	if resp.Total != 0 {
		t.Errorf("matches = %d, want 0", resp.Total)
	}
}

func TestFilters(t *testing.T) {
	store := newTestStore(t)
	seedSearchData(t, store)
	q := NewQuery(store, nil, nil)

	fv, err := q.Filters(context.Background(), func(p int) string { return "label" })
	if err != nil {
		t.Fatalf("filters: %v", err)
	}

	if len(fv.Hostnames) != 2 {
		t.Errorf("hostnames = %v, want [alpha beta]", fv.Hostnames)
	}
	if len(fv.Units) != 4 {
		t.Errorf("units = %d distinct, want 4", len(fv.Units))
	}
	if len(fv.Priorities) != 8 {
		t.Errorf("priorities = %d, want 8", len(fv.Priorities))
	}
}

func TestQuerySQLRowCap(t *testing.T) {
	store := newTestStore(t)
	seedSearchData(t, store)
	q := NewQuery(store, nil, nil)

	rows, err := q.QuerySQL(context.Background(), "SELECT * FROM journal_logs", 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("rows = %d, want capped at 2", len(rows))
	}
}

func TestQuerySQLBadStatement(t *testing.T) {
	store := newTestStore(t)
	q := NewQuery(store, nil, nil)

	_, err := q.QuerySQL(context.Background(), "SELECT nope FROM nowhere", 10)
	if err == nil {
		t.Fatal("expected error from invalid query")
	}
	if !liverrors.Is(err, liverrors.ErrInvalidQuery) {
		t.Errorf("error = %v, want ErrInvalidQuery", err)
	}
}

func TestHealthSnapshot(t *testing.T) {
	store := newTestStore(t)
	seedSearchData(t, store)

	policy := generousPolicy()
	q := NewQuery(store, nil, func() Policy { return policy })

	snap, err := q.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}

	if snap.LogRows != 4 {
		t.Errorf("log rows = %d, want 4", snap.LogRows)
	}
	if snap.SizeBytes <= 0 {
		t.Errorf("size = %d, want > 0", snap.SizeBytes)
	}
	if snap.SchemaVer != LatestVersion() {
		t.Errorf("schema version = %d, want %d", snap.SchemaVer, LatestVersion())
	}
	if snap.OldestLog == nil || snap.NewestLog == nil {
		t.Fatal("missing log time range")
	}
	if snap.OldestLog.After(*snap.NewestLog) {
		t.Error("oldest log is after newest log")
	}
	if snap.Policy.LogRetentionDays != policy.LogRetentionDays {
		t.Errorf("policy days = %d, want %d", snap.Policy.LogRetentionDays, policy.LogRetentionDays)
	}
}
