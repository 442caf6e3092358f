package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates the task is being worked on.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before finishing.
	TaskStatusCancelled TaskStatus = "cancelled"
	// TaskStatusBlocked indicates the task cannot proceed.
	TaskStatusBlocked TaskStatus = "blocked"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled, TaskStatusBlocked:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further work will happen on a task in this status.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Task represents a unit of work in the hierarchy.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"task_id"`
	// SessionID is the session that owns this task.
	SessionID string `json:"session_id"`
	// ParentID is the ID of the owning task, empty for top-level tasks.
	ParentID string `json:"parent_id,omitempty"`
	// Name is the short description of the task.
	Name string `json:"name"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Progress is the completion fraction in [0,1].
	Progress float64 `json:"progress"`
	// Priority orders tasks; higher is more urgent.
	Priority int `json:"priority"`
	// Dependencies lists task IDs that must finish before this task.
	Dependencies []string `json:"dependencies,omitempty"`
	// Tags are free-form labels.
	Tags []string `json:"tags,omitempty"`
	// Metadata holds auxiliary values such as the last dependency analysis.
	Metadata map[string]any `json:"metadata,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// DependsOn reports whether id is in the task's declared dependency set.
func (t *Task) DependsOn(id string) bool {
	for _, d := range t.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}

// Clone returns a copy of the task that shares no slices or maps with t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Dependencies != nil {
		c.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// SessionStatus represents the state of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionArchived  SessionStatus = "archived"
)

// Session groups the task forests a caller works on.
type Session struct {
	ID        string         `json:"session_id"`
	Name      string         `json:"name"`
	Status    SessionStatus  `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
