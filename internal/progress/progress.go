// Package progress summarises task trees and predicts when they will finish.
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/taskgraph/internal/analysis"
	"github.com/ShayCichocki/taskgraph/internal/state"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

// DefaultTaskDuration is assumed for a leaf when no history is available.
const DefaultTaskDuration = 300 * time.Second

// historyLimit bounds how many progress records are read per task.
const historyLimit = 100

// Store is the persistence the tracker reads.
type Store interface {
	GetTree(ctx context.Context, sessionID, rootID string) (models.Forest, error)
	GetProgressHistory(ctx context.Context, id string, limit int) ([]state.ProgressEntry, error)
}

// Summary counts every task in a tree by status.
type Summary struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	Pending    int `json:"pending"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Blocked    int `json:"blocked"`
	// Progress is Completed / Total.
	Progress float64 `json:"progress"`
}

// Prediction estimates the remaining work in a tree.
type Prediction struct {
	RemainingTasks       int           `json:"remaining_tasks"`
	EstimatedRemaining   time.Duration `json:"estimated_remaining"`
	AverageTaskTime      time.Duration `json:"average_task_time"`
	CompletionPercentage float64       `json:"completion_percentage"`
	EstimatedCompletion  time.Time     `json:"estimated_completion"`
	// Observed is the number of finished leaves the average is based on.
	Observed int `json:"observed"`
}

// Tracker reads progress from the store.
type Tracker struct {
	store Store
	now   func() time.Time
}

// NewTracker creates a Tracker.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

func (t *Tracker) tree(ctx context.Context, sessionID, rootID string) (models.Forest, error) {
	forest, err := t.store.GetTree(ctx, sessionID, rootID)
	if err != nil {
		return nil, fmt.Errorf("load task tree: %w", err)
	}
	if len(forest) == 0 {
		return nil, fmt.Errorf("session %s root %q: %w", sessionID, rootID, analysis.ErrTaskTreeNotFound)
	}
	return forest, nil
}

// Summary counts the tasks of a session, or of the tree under rootID.
func (t *Tracker) Summary(ctx context.Context, sessionID, rootID string) (*Summary, error) {
	forest, err := t.tree(ctx, sessionID, rootID)
	if err != nil {
		return nil, err
	}
	return summarize(forest), nil
}

func summarize(forest models.Forest) *Summary {
	s := &Summary{}
	for _, task := range forest.Tasks() {
		s.Total++
		switch task.Status {
		case models.TaskStatusCompleted:
			s.Completed++
		case models.TaskStatusInProgress:
			s.InProgress++
		case models.TaskStatusFailed:
			s.Failed++
		case models.TaskStatusCancelled:
			s.Cancelled++
		case models.TaskStatusBlocked:
			s.Blocked++
		default:
			s.Pending++
		}
	}
	if s.Total > 0 {
		s.Progress = float64(s.Completed) / float64(s.Total)
	}
	return s
}

// Predict estimates how long the unfinished leaves will take. The per-leaf
// time is the mean observed duration of completed leaves, from their first
// to last progress record, or DefaultTaskDuration when none was observed.
func (t *Tracker) Predict(ctx context.Context, sessionID, rootID string) (*Prediction, error) {
	forest, err := t.tree(ctx, sessionID, rootID)
	if err != nil {
		return nil, err
	}

	var total time.Duration
	p := &Prediction{}
	for _, leaf := range forest.Leaves() {
		switch leaf.Status {
		case models.TaskStatusCompleted:
			d, ok, err := t.observed(ctx, leaf.ID)
			if err != nil {
				return nil, err
			}
			if ok {
				total += d
				p.Observed++
			}
		case models.TaskStatusFailed, models.TaskStatusCancelled:
		default:
			p.RemainingTasks++
		}
	}

	p.AverageTaskTime = DefaultTaskDuration
	if p.Observed > 0 {
		p.AverageTaskTime = total / time.Duration(p.Observed)
	}
	p.EstimatedRemaining = time.Duration(p.RemainingTasks) * p.AverageTaskTime
	p.EstimatedCompletion = t.now().Add(p.EstimatedRemaining)
	p.CompletionPercentage = summarize(forest).Progress * 100
	return p, nil
}

// observed returns the span between a task's first and last progress records.
func (t *Tracker) observed(ctx context.Context, id string) (time.Duration, bool, error) {
	history, err := t.store.GetProgressHistory(ctx, id, historyLimit)
	if err != nil {
		return 0, false, fmt.Errorf("progress history %s: %w", id, err)
	}
	if len(history) < 2 {
		return 0, false, nil
	}
	// Newest first.
	d := history[0].RecordedAt.Sub(history[len(history)-1].RecordedAt)
	if d <= 0 {
		return 0, false, nil
	}
	return d, true, nil
}
