package executor

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/taskgraph/pkg/models"
)

// Stats are cumulative over every run of an Executor.
type Stats struct {
	TotalExecuted    int           `json:"total_executed"`
	TotalFailed      int           `json:"total_failed"`
	TotalTime        time.Duration `json:"total_time"`
	AvgExecutionTime time.Duration `json:"avg_execution_time"`
}

// HistoryEntry records one finished task.
type HistoryEntry struct {
	TaskID    string            `json:"task_id"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at"`
	Duration  time.Duration     `json:"duration"`
	Status    models.TaskStatus `json:"status"`
	Error     string            `json:"error,omitempty"`
}

// StatusReport is a snapshot of the executor.
type StatusReport struct {
	State       State          `json:"state"`
	Running     []string       `json:"running"`
	QueueSize   int            `json:"queue_size"`
	MaxParallel int            `json:"max_parallel"`
	HeldPermits int            `json:"held_permits"`
	Stats       Stats          `json:"stats"`
	Recent      []HistoryEntry `json:"recent_history"`
}

// recordLocked appends a history entry and folds it into the stats.
// Cancelled tasks are recorded but not counted as executed.
func (e *Executor) recordLocked(ts *TaskExecutionState) {
	entry := HistoryEntry{
		TaskID:    ts.TaskID,
		StartedAt: ts.StartedAt,
		EndedAt:   ts.EndedAt,
		Duration:  ts.EndedAt.Sub(ts.StartedAt),
		Status:    ts.Status,
	}
	if ts.Err != nil {
		entry.Error = ts.Err.Error()
	}
	e.history = append(e.history, entry)

	switch ts.Status {
	case models.TaskStatusCompleted:
		e.stats.TotalExecuted++
	case models.TaskStatusFailed:
		e.stats.TotalFailed++
	default:
		return
	}
	e.stats.TotalTime += entry.Duration
	e.stats.AvgExecutionTime = e.stats.TotalTime / time.Duration(e.stats.TotalExecuted+e.stats.TotalFailed)
}

// Status returns a snapshot with the last ten history entries.
func (e *Executor) Status() StatusReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	queued := 0
	for _, ts := range e.tasks {
		if ts.Status == models.TaskStatusPending {
			queued++
		}
	}
	recent := e.history
	if len(recent) > historyRecent {
		recent = recent[len(recent)-historyRecent:]
	}
	return StatusReport{
		State:       e.state,
		Running:     append([]string(nil), e.running...),
		QueueSize:   queued,
		MaxParallel: e.maxParallel,
		HeldPermits: e.permits.heldCount(),
		Stats:       e.stats,
		Recent:      append([]HistoryEntry(nil), recent...),
	}
}

// History returns every recorded entry, oldest first.
func (e *Executor) History() []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]HistoryEntry(nil), e.history...)
}

// AvailableParallelism is the number of further tasks that could run now.
func (e *Executor) AvailableParallelism() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.maxParallel - len(e.running)
	if n < 0 {
		return 0
	}
	return n
}

// AdjustParallelism scales the parallelism by loadFactor, clamped to
// [MinParallel, MaxTunedParallel], and returns the new value. It refuses to
// resize the pool while a run is active.
func (e *Executor) AdjustParallelism(loadFactor float64) (int, error) {
	if loadFactor < 0 {
		return 0, fmt.Errorf("load factor %v is negative: %w", loadFactor, ErrInvalidParallelism)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeLocked() {
		return e.maxParallel, ErrExecutionRunning
	}
	n := int(float64(e.maxParallel) * loadFactor)
	n = max(MinParallel, min(MaxTunedParallel, n))
	if n != e.maxParallel {
		e.log.Infof("parallelism adjusted %d -> %d (load %.2f)", e.maxParallel, n, loadFactor)
	}
	e.maxParallel = n
	return n, nil
}
