package models

import "time"

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the run can no longer change state.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// CanTransition reports whether a run may move from one status to another.
// Runs only move forward: pending to running, running to a terminal state.
// A pending run may also be cancelled before it starts.
func CanTransition(from, to RunStatus) bool {
	switch from {
	case RunPending:
		return to == RunRunning || to == RunCancelled
	case RunRunning:
		return to == RunCompleted || to == RunFailed || to == RunCancelled
	default:
		return false
	}
}

// WorkflowConfig controls how a run is executed.
type WorkflowConfig struct {
	// MaxParallel bounds the number of leaf tasks running at once (1-16).
	MaxParallel int `json:"max_parallel"`
	// AutoDecompose asks the decomposer to split a childless root before analysis.
	AutoDecompose bool `json:"auto_decompose"`
	// AutoInfer enables sibling dependency inference during analysis.
	AutoInfer bool `json:"auto_infer"`
	// FailFast cancels the remaining work after the first task failure.
	FailFast bool `json:"fail_fast"`
}

// DefaultWorkflowConfig returns the configuration used when none is supplied.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		MaxParallel:   4,
		AutoDecompose: true,
		AutoInfer:     true,
		FailFast:      false,
	}
}

// WorkflowRun is one execution of a task tree.
type WorkflowRun struct {
	ID          string           `json:"workflow_id"`
	SessionID   string           `json:"session_id"`
	RootTaskID  string           `json:"root_task_id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Status      RunStatus        `json:"status"`
	Config      WorkflowConfig   `json:"config"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
	Result      *ExecutionResult `json:"result,omitempty"`
}
