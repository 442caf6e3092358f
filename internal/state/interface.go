// Package state provides SQLite-based persistence for sessions and task hierarchies.
package state

import (
	"context"
	"errors"
	"io"

	"github.com/ShayCichocki/taskgraph/pkg/models"
)

var (
	// ErrTaskNotFound is returned when a write targets a task that does not exist.
	ErrTaskNotFound = errors.New("task not found")
	// ErrSessionNotFound is returned when a write targets a session that does not exist.
	ErrSessionNotFound = errors.New("session not found")
)

// SessionStore handles session-related persistence operations.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, status *models.SessionStatus) ([]*models.Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus) error
	GetActiveSession(ctx context.Context) (*models.Session, error)
}

// TaskStore handles task-related persistence operations.
type TaskStore interface {
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	GetSubtasks(ctx context.Context, id string) ([]*models.Task, error)
	ListTasks(ctx context.Context, sessionID string) ([]*models.Task, error)
	ListByStatus(ctx context.Context, sessionID string, status models.TaskStatus) ([]*models.Task, error)
	GetTree(ctx context.Context, sessionID, rootID string) (models.Forest, error)
	UpdateTask(ctx context.Context, t *models.Task) error
	DeleteTask(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, progress float64, status *models.TaskStatus) error
	GetProgressHistory(ctx context.Context, id string, limit int) ([]ProgressEntry, error)
	AddDependency(ctx context.Context, taskID, dependsOn string) (bool, error)
	RemoveDependency(ctx context.Context, taskID, dependsOn string) (bool, error)
	UpdateMetadata(ctx context.Context, id, key string, value any) error
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store is the full persistence surface used by the command layer.
// Core packages declare the narrower interfaces they need.
type Store interface {
	io.Closer
	Migrator
	SessionStore
	TaskStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store        = (*DB)(nil)
	_ Migrator     = (*DB)(nil)
	_ SessionStore = (*DB)(nil)
	_ TaskStore    = (*DB)(nil)
)
