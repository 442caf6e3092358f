package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/taskgraph/pkg/models"
)

// taskRow is one task in the panel.
type taskRow struct {
	id       string
	name     string
	status   models.TaskStatus
	progress float64
}

// TaskCounts holds the count of tasks in each status.
type TaskCounts struct {
	Pending   int
	Running   int
	Done      int
	Failed    int
	Cancelled int
}

// TasksPanel lists tasks in the order they were first seen.
type TasksPanel struct {
	rows  []*taskRow
	index map[string]*taskRow

	titleStyle   lipgloss.Style
	borderStyle  lipgloss.Style
	pendingStyle lipgloss.Style
	runningStyle lipgloss.Style
	doneStyle    lipgloss.Style
	failedStyle  lipgloss.Style
	blockedStyle lipgloss.Style
}

// NewTasksPanel creates a new TasksPanel instance.
func NewTasksPanel() *TasksPanel {
	return &TasksPanel{
		index: make(map[string]*taskRow),

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1),

		borderStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")),

		pendingStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("244")), // Gray
		runningStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("34")),  // Green
		doneStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("28")),  // Dark green
		failedStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")), // Red
		blockedStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("214")), // Orange
	}
}

// Upsert records a task's status and progress. It reports whether the task
// was new to the panel. Terminal statuses are not overwritten by late
// progress events.
func (p *TasksPanel) Upsert(id string, status models.TaskStatus, progress float64) bool {
	if id == "" {
		return false
	}
	row, ok := p.index[id]
	if !ok {
		row = &taskRow{id: id, name: id, status: models.TaskStatusPending}
		p.index[id] = row
		p.rows = append(p.rows, row)
	}
	if row.status.IsTerminal() {
		return !ok
	}
	if status != "" {
		row.status = status
	}
	if progress > row.progress || status.IsTerminal() {
		row.progress = progress
	}
	return !ok
}

// SetName sets the display name of a known task.
func (p *TasksPanel) SetName(id, name string) {
	if row, ok := p.index[id]; ok {
		row.name = name
	}
}

// Counts tallies the rows by status.
func (p *TasksPanel) Counts() TaskCounts {
	var c TaskCounts
	for _, r := range p.rows {
		switch r.status {
		case models.TaskStatusInProgress:
			c.Running++
		case models.TaskStatusCompleted:
			c.Done++
		case models.TaskStatusFailed:
			c.Failed++
		case models.TaskStatusCancelled:
			c.Cancelled++
		default:
			c.Pending++
		}
	}
	return c
}

// Progress is the mean progress of every row, in [0,1].
func (p *TasksPanel) Progress() float64 {
	if len(p.rows) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range p.rows {
		sum += r.progress
	}
	return sum / float64(len(p.rows))
}

func (p *TasksPanel) icon(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusInProgress:
		return p.runningStyle.Render("●")
	case models.TaskStatusCompleted:
		return p.doneStyle.Render("✓")
	case models.TaskStatusFailed:
		return p.failedStyle.Render("✗")
	case models.TaskStatusCancelled:
		return p.blockedStyle.Render("⊘")
	case models.TaskStatusBlocked:
		return p.blockedStyle.Render("◌")
	default:
		return p.pendingStyle.Render("○")
	}
}

// View renders the panel at the given width.
func (p *TasksPanel) View(width int) string {
	inner := max(20, width-4)
	var lines []string
	lines = append(lines, p.titleStyle.Render("Tasks"))
	if len(p.rows) == 0 {
		lines = append(lines, p.pendingStyle.Render("  waiting for tasks..."))
	}
	nameWidth := max(8, inner-12)
	for _, r := range p.rows {
		name := r.name
		if len([]rune(name)) > nameWidth {
			name = string([]rune(name)[:nameWidth-1]) + "…"
		}
		lines = append(lines, fmt.Sprintf(" %s %-*s %4.0f%%", p.icon(r.status), nameWidth, name, r.progress*100))
	}
	return p.borderStyle.Width(inner).Render(strings.Join(lines, "\n"))
}
