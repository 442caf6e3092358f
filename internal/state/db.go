// Package state provides SQLite-based persistence for sessions and task hierarchies.
// It handles both the user-wide store (~/.local/share/taskgraph/taskgraph.db)
// and project-local stores (.taskgraph/state.db).
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	// DriverModernc is the pure-Go driver and the default.
	DriverModernc = "sqlite"
	// DriverMattn is the cgo driver.
	DriverMattn = "sqlite3"
)

// DB wraps an SQLite database connection with task-store operations.
type DB struct {
	conn   *sqlx.DB
	path   string
	driver string
	mu     sync.RWMutex
	log    logrus.FieldLogger
}

// GlobalDBPath returns the path to the user-wide database.
func GlobalDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "taskgraph", "taskgraph.db")
}

// ProjectDBPath returns the path to the project-local database.
func ProjectDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".taskgraph", "state.db")
}

// Open opens an SQLite database at the given path using the default driver.
func Open(path string) (*DB, error) {
	return OpenWithDriver(DriverModernc, path)
}

// OpenWithDriver opens an SQLite database with the named driver.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func OpenWithDriver(driver, path string) (*DB, error) {
	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverMattn {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sqlx.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &DB{
		conn:   conn,
		path:   path,
		driver: driver,
		log:    logrus.StandardLogger().WithField("component", "state"),
	}, nil
}

// SetLogger replaces the store's logger.
func (db *DB) SetLogger(l logrus.FieldLogger) {
	if l != nil {
		db.log = l
	}
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Driver returns the database/sql driver name in use.
func (db *DB) Driver() string {
	return db.driver
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.PingContext(ctx)
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	if err := db.conn.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Sessions},
		{2, migrationV2Tasks},
		{3, migrationV3ProgressHistory},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Beginx()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
		db.log.Debugf("applied migration v%d", m.version)
	}

	return nil
}

// Migration SQL statements
const migrationV1Sessions = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
`

const migrationV2Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	parent_id TEXT,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	progress REAL NOT NULL DEFAULT 0.0,
	priority INTEGER NOT NULL DEFAULT 0,
	dependencies TEXT NOT NULL DEFAULT '[]',
	tags TEXT NOT NULL DEFAULT '[]',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_session_id ON tasks(session_id);
CREATE INDEX IF NOT EXISTS idx_tasks_parent_id ON tasks(parent_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

const migrationV3ProgressHistory = `
CREATE TABLE IF NOT EXISTS progress_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	progress REAL NOT NULL,
	status TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_progress_history_task_id ON progress_history(task_id);
`

// exec executes a statement that doesn't return rows.
func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.ExecContext(ctx, query, args...)
}

// get scans a single row into dest.
func (db *DB) get(ctx context.Context, dest any, query string, args ...any) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.GetContext(ctx, dest, query, args...)
}

// selectRows scans all rows into dest, which must be a pointer to a slice.
func (db *DB) selectRows(ctx context.Context, dest any, query string, args ...any) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.SelectContext(ctx, dest, query, args...)
}

// Transaction runs the given function within a transaction.
// fn must use tx exclusively; calling other DB methods from fn deadlocks.
func (db *DB) Transaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
