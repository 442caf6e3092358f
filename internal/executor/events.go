package executor

import "time"

// EventKind identifies a task lifecycle event.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
)

// Event is passed to Options.OnEvent.
type Event struct {
	Kind     EventKind
	TaskID   string
	Progress float64
	Result   any
	Err      error
	Time     time.Time
}
