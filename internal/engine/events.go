package engine

import (
	"time"

	"github.com/ShayCichocki/taskgraph/pkg/models"
)

// EventType represents the type of engine event.
type EventType string

const (
	// EventTaskCreated indicates a task was added to the store by the engine.
	EventTaskCreated EventType = "task_created"
	// EventTaskStarted indicates a task has started execution.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed.
	EventTaskFailed EventType = "task_failed"
	// EventTaskCancelled indicates a task was cancelled.
	EventTaskCancelled EventType = "task_cancelled"
	// EventProgressUpdated carries a task progress change.
	EventProgressUpdated EventType = "progress_updated"
	// EventDependencyResolved indicates dependency analysis finished for a run.
	EventDependencyResolved EventType = "dependency_resolved"
	EventWorkflowStarted    EventType = "workflow_started"
	EventWorkflowCompleted  EventType = "workflow_completed"
	// EventWorkflowFailed is also emitted after a cancellation, with the
	// message "Workflow cancelled".
	EventWorkflowFailed    EventType = "workflow_failed"
	EventWorkflowCancelled EventType = "workflow_cancelled"
)

// Event is emitted to listeners and the event channel.
type Event struct {
	Type       EventType
	WorkflowID string
	TaskID     string
	// ParentID is set on task_created events.
	ParentID string
	Progress float64
	Status   models.TaskStatus
	Message  string
	Error    error
	// Result holds the task result, the analysis result or the execution
	// result depending on Type.
	Result    any
	Timestamp time.Time
}
