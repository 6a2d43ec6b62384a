package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	liverrors "github.com/xtxerr/livedata/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "test.duckdb"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestMigrateFresh(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	version, err := store.CurrentVersion(ctx)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != LatestVersion() {
		t.Errorf("version = %d, want %d", version, LatestVersion())
	}

	for _, table := range []string{TableLogs, TableProcesses} {
		exists, err := store.TableExists(ctx, table)
		if err != nil {
			t.Fatalf("table exists %s: %v", table, err)
		}
		if !exists {
			t.Errorf("table %s missing after migration", table)
		}
	}
}

func TestMigrateIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Applying migrations to an up-to-date database must be a no-op.
	for i := 0; i < 3; i++ {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("migrate pass %d: %v", i+2, err)
		}
	}

	version, err := store.CurrentVersion(ctx)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != LatestVersion() {
		t.Errorf("version = %d after repeated migration, want %d", version, LatestVersion())
	}

	// The version table must not accumulate duplicate records either.
	count, err := store.RowCount(ctx, tableVersion)
	if err != nil {
		t.Fatalf("count versions: %v", err)
	}
	if count != int64(LatestVersion()) {
		t.Errorf("version records = %d, want %d", count, LatestVersion())
	}
}

func TestBackupMissingFileIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.duckdb")

	if err := Backup(path); err != nil {
		t.Fatalf("backup of missing file: %v", err)
	}
	if _, err := os.Stat(path + ".bak"); !os.IsNotExist(err) {
		t.Error("backup file created for a missing database")
	}
}

func TestBackupCopiesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.duckdb")
	content := []byte("not really a database")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Backup(path); err != nil {
		t.Fatalf("backup: %v", err)
	}

	got, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("backup content = %q, want %q", got, content)
	}
}

func TestOpenUnreachablePath(t *testing.T) {
	// A file path under a non-creatable location must fail with the
	// unopenable sentinel.
	_, err := Open("/proc/nonexistent/nested/db.duckdb")
	if err == nil {
		t.Fatal("expected error opening unreachable path")
	}
	if !liverrors.Is(err, liverrors.ErrUnopenable) {
		t.Errorf("error = %v, want ErrUnopenable", err)
	}
}
