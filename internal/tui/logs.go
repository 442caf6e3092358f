package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// LogLevel represents the severity of a log message.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogEntry is one line in the logs panel.
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	TaskID    string
	Message   string
}

// LogsPanel keeps the most recent run events.
type LogsPanel struct {
	entries []LogEntry
	maxLogs int

	titleStyle  lipgloss.Style
	borderStyle lipgloss.Style
	timeStyle   lipgloss.Style
	taskStyle   lipgloss.Style
	infoStyle   lipgloss.Style
	warnStyle   lipgloss.Style
	errorStyle  lipgloss.Style
}

// NewLogsPanel creates a panel holding at most maxLogs entries.
func NewLogsPanel(maxLogs int) *LogsPanel {
	if maxLogs <= 0 {
		maxLogs = 1000
	}
	return &LogsPanel{
		maxLogs: maxLogs,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1),

		borderStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")),

		timeStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		taskStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
		infoStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		warnStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		errorStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// Add appends an entry, dropping the oldest beyond the limit.
func (p *LogsPanel) Add(at time.Time, level LogLevel, taskID, message string) {
	p.entries = append(p.entries, LogEntry{Timestamp: at, Level: level, TaskID: taskID, Message: message})
	if over := len(p.entries) - p.maxLogs; over > 0 {
		p.entries = append([]LogEntry(nil), p.entries[over:]...)
	}
}

// Entries returns a copy of the stored entries, oldest first.
func (p *LogsPanel) Entries() []LogEntry {
	return append([]LogEntry(nil), p.entries...)
}

func (p *LogsPanel) style(l LogLevel) lipgloss.Style {
	switch l {
	case LogLevelWarn:
		return p.warnStyle
	case LogLevelError:
		return p.errorStyle
	default:
		return p.infoStyle
	}
}

// View renders the last height entries.
func (p *LogsPanel) View(width, height int) string {
	inner := max(20, width-4)
	shown := p.entries
	if len(shown) > height {
		shown = shown[len(shown)-height:]
	}
	lines := []string{p.titleStyle.Render("Events")}
	for _, e := range shown {
		line := p.timeStyle.Render(e.Timestamp.Format("15:04:05")) + " "
		if e.TaskID != "" {
			line += p.taskStyle.Render(e.TaskID) + " "
		}
		line += p.style(e.Level).Render(e.Message)
		lines = append(lines, line)
	}
	for len(lines) <= height {
		lines = append(lines, "")
	}
	return p.borderStyle.Width(inner).Render(strings.Join(lines, "\n"))
}
