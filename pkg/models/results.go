package models

import "time"

// MinutesPerTask is the fixed per-task estimate used for critical path duration.
const MinutesPerTask = 5

// CriticalPath is the longest dependency chain found in a graph.
type CriticalPath struct {
	Tasks []string `json:"tasks"`
	// Length is the number of edges on the path.
	Length int `json:"length"`
	// EstimatedDuration is Length * MinutesPerTask, in minutes.
	EstimatedDuration int `json:"estimated_duration"`
}

// CycleResolution records the outcome of breaking one cycle.
type CycleResolution struct {
	Cycle    []string `json:"cycle"`
	Strategy string   `json:"strategy"`
	Success  bool     `json:"success"`
	Error    string   `json:"error,omitempty"`
}

// ResolutionReport summarises a cycle resolution pass.
type ResolutionReport struct {
	CyclesFound     int               `json:"cycles_found"`
	Resolutions     []CycleResolution `json:"resolutions"`
	RemainingCycles [][]string        `json:"remaining_cycles"`
}

// AnalysisStatus values.
const (
	AnalysisOK              = "analyzed"
	AnalysisCyclesRemaining = "cycles_remaining"
)

// AnalysisResult is produced by a dependency analysis run.
type AnalysisResult struct {
	Status         string   `json:"status"`
	TaskCount      int      `json:"task_count"`
	ExecutionOrder []string `json:"execution_order"`
	// OrderValid is false when ExecutionOrder came from the breadth-first
	// fallback and is therefore not a topological order.
	OrderValid           bool              `json:"order_valid"`
	CriticalPath         CriticalPath      `json:"critical_path"`
	Cycles               [][]string        `json:"cycles"`
	ParallelizableGroups [][]string        `json:"parallelizable_groups"`
	Resolution           *ResolutionReport `json:"resolution,omitempty"`
	AnalyzedAt           time.Time         `json:"analyzed_at"`
}

// TaskResult is the outcome of a single executed task.
type TaskResult struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ExecutionResult summarises a workflow execution.
type ExecutionResult struct {
	Status     string       `json:"status"`
	TotalTasks int          `json:"total_tasks"`
	Completed  int          `json:"completed"`
	Failed     int          `json:"failed"`
	Results    []TaskResult `json:"results"`
}

// VisualNode is a graph node in the visualization payload.
type VisualNode struct {
	ID     string     `json:"id"`
	Label  string     `json:"label"`
	Status TaskStatus `json:"status"`
}

// VisualEdge is a directed edge in the visualization payload.
type VisualEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Visualization is the payload consumed by graph renderers.
type Visualization struct {
	Nodes        []VisualNode `json:"nodes"`
	Edges        []VisualEdge `json:"edges"`
	Groups       [][]string   `json:"groups"`
	CriticalPath []string     `json:"critical_path"`
}
