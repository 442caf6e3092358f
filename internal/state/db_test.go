package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.db")
}

// setupTestDB creates a new temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if db.Driver() != DriverModernc {
		t.Errorf("Driver() = %q, want %q", db.Driver(), DriverModernc)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")
	path := filepath.Join(nested, "test.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(nested); os.IsNotExist(err) {
		t.Errorf("parent directories not created: %s", nested)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	// On Linux, we can't create files under /proc
	_, err := Open("/proc/nonexistent/test.db")
	if err == nil {
		t.Error("expected error opening db at invalid path")
	}
}

func TestOpenWithDriver_Unsupported(t *testing.T) {
	_, err := OpenWithDriver("postgres", tempDBPath(t))
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestClose(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if err := db.Ping(context.Background()); err == nil {
		t.Error("expected error after close, got nil")
	}
}

func TestMigrate(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	tables := []string{"sessions", "tasks", "progress_history", "schema_version"}
	for _, table := range tables {
		var name string
		err := db.get(context.Background(), &name,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	for i := 0; i < 3; i++ {
		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate attempt %d failed: %v", i+1, err)
		}
	}

	var version int
	if err := db.get(context.Background(), &version, "SELECT MAX(version) FROM schema_version"); err != nil {
		t.Fatalf("failed to get version: %v", err)
	}
	if version != 3 {
		t.Errorf("schema version = %d, want 3", version)
	}
}

func TestTransaction_Success(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.Transaction(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.Exec("INSERT INTO sessions (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)",
			"tx-1", "tx", "2024-01-01T00:00:00Z", "2024-01-01T00:00:00Z")
		return err
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	s, err := db.GetSession(ctx, "tx-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if s == nil {
		t.Error("transaction was not committed")
	}
}

func TestTransaction_Rollback(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.Transaction(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.Exec("INSERT INTO sessions (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)",
			"tx-fail", "tx", "2024-01-01T00:00:00Z", "2024-01-01T00:00:00Z")
		if err != nil {
			return err
		}
		return fmt.Errorf("simulated error")
	})
	if err == nil {
		t.Error("expected error from Transaction")
	}

	s, err := db.GetSession(ctx, "tx-fail")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if s != nil {
		t.Error("transaction was not rolled back")
	}
}

func TestGlobalDBPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	path := GlobalDBPath()
	expected := "/custom/data/taskgraph/taskgraph.db"
	if path != expected {
		t.Errorf("GlobalDBPath() = %q, want %q", path, expected)
	}

	t.Setenv("XDG_DATA_HOME", "")
	path = GlobalDBPath()
	home, _ := os.UserHomeDir()
	expected = filepath.Join(home, ".local", "share", "taskgraph", "taskgraph.db")
	if path != expected {
		t.Errorf("GlobalDBPath() = %q, want %q", path, expected)
	}
}

func TestProjectDBPath(t *testing.T) {
	path := ProjectDBPath("/my/project")
	expected := "/my/project/.taskgraph/state.db"
	if path != expected {
		t.Errorf("ProjectDBPath() = %q, want %q", path, expected)
	}
}

func TestFormatAndParseTime(t *testing.T) {
	now := time.Now()
	parsed, err := parseTime(formatTime(now))
	if err != nil {
		t.Fatalf("parseTime failed: %v", err)
	}
	if !now.Equal(parsed) {
		t.Errorf("time round-trip failed: got %v, want %v", parsed, now.UTC())
	}
}
