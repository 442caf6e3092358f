package state

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/taskgraph/pkg/models"
)

// InterruptedSession describes an active session that still has leaf tasks
// marked in_progress, typically because a previous run was killed.
type InterruptedSession struct {
	SessionID    string
	CreatedAt    time.Time
	LastActivity time.Time
	RunningTasks []string
}

// RecoveryManager handles detection and recovery of interrupted sessions.
type RecoveryManager struct {
	db  *DB
	log logrus.FieldLogger
}

// NewRecoveryManager creates a new RecoveryManager with the given database.
func NewRecoveryManager(db *DB) *RecoveryManager {
	return &RecoveryManager{db: db, log: db.log.WithField("component", "recovery")}
}

// CheckForInterrupted returns the newest active session with leaf tasks left
// in_progress. Returns nil if no interrupted session is found.
func (rm *RecoveryManager) CheckForInterrupted(ctx context.Context) (*InterruptedSession, error) {
	status := models.SessionActive
	sessions, err := rm.db.ListSessions(ctx, &status)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	for _, s := range sessions {
		running, lastActivity, err := rm.interruptedLeaves(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		if len(running) == 0 {
			continue
		}
		if lastActivity.Before(s.CreatedAt) {
			lastActivity = s.CreatedAt
		}
		return &InterruptedSession{
			SessionID:    s.ID,
			CreatedAt:    s.CreatedAt,
			LastActivity: lastActivity,
			RunningTasks: running,
		}, nil
	}
	return nil, nil
}

// interruptedLeaves lists in_progress tasks with no children. Parents are
// excluded since their status is derived from their children.
func (rm *RecoveryManager) interruptedLeaves(ctx context.Context, sessionID string) ([]string, time.Time, error) {
	tasks, err := rm.db.ListTasks(ctx, sessionID)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("list tasks: %w", err)
	}

	hasChildren := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ParentID != "" {
			hasChildren[t.ParentID] = true
		}
	}

	var running []string
	var last time.Time
	for _, t := range tasks {
		if t.UpdatedAt.After(last) {
			last = t.UpdatedAt
		}
		if t.Status == models.TaskStatusInProgress && !hasChildren[t.ID] {
			running = append(running, t.ID)
		}
	}
	return running, last, nil
}

// Resume resets interrupted leaf tasks to pending with zero progress so the
// next run picks them up again. Ancestors are rolled up as part of the reset.
func (rm *RecoveryManager) Resume(ctx context.Context, sessionID string) (int, error) {
	session, err := rm.db.GetSession(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return 0, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	running, _, err := rm.interruptedLeaves(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	pending := models.TaskStatusPending
	for _, id := range running {
		if err := rm.db.UpdateProgress(ctx, id, 0, &pending); err != nil {
			return 0, fmt.Errorf("reset task %s: %w", id, err)
		}
		rm.log.WithField("task_id", id).Info("reset interrupted task to pending")
	}

	rm.log.WithField("session_id", sessionID).Infof("session resumed, %d task(s) reset", len(running))
	return len(running), nil
}

// Clean marks interrupted leaf tasks as failed and archives the session.
func (rm *RecoveryManager) Clean(ctx context.Context, sessionID string) error {
	session, err := rm.db.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	running, _, err := rm.interruptedLeaves(ctx, sessionID)
	if err != nil {
		return err
	}

	failed := models.TaskStatusFailed
	for _, id := range running {
		task, err := rm.db.GetTask(ctx, id)
		if err != nil {
			return fmt.Errorf("load task %s: %w", id, err)
		}
		if task == nil {
			continue
		}
		if err := rm.db.UpdateProgress(ctx, id, task.Progress, &failed); err != nil {
			return fmt.Errorf("fail task %s: %w", id, err)
		}
	}

	if err := rm.db.UpdateSessionStatus(ctx, sessionID, models.SessionArchived); err != nil {
		return fmt.Errorf("archive session: %w", err)
	}

	rm.log.WithField("session_id", sessionID).Info("session cleaned up and archived")
	return nil
}
