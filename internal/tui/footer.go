package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Footer renders the status bar and keyboard hints.
type Footer struct {
	counts  TaskCounts
	paused  bool
	done    bool
	success bool
	message string

	successStyle   lipgloss.Style
	errorStyle     lipgloss.Style
	hintStyle      lipgloss.Style
	separatorStyle lipgloss.Style
}

// NewFooter creates a new Footer instance.
func NewFooter() *Footer {
	return &Footer{
		successStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")).
			Bold(true),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		separatorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("236")),
	}
}

// SetCounts updates the task counts for display.
func (f *Footer) SetCounts(c TaskCounts) { f.counts = c }

// SetPaused toggles the paused hint.
func (f *Footer) SetPaused(paused bool) { f.paused = paused }

// SetDone marks the run as finished with a final message.
func (f *Footer) SetDone(success bool, message string) {
	f.done = true
	f.success = success
	f.message = message
}

// View renders the footer.
func (f *Footer) View() string {
	left := fmt.Sprintf("✓%d", f.counts.Done)
	if f.counts.Running > 0 {
		left += fmt.Sprintf(" ●%d", f.counts.Running)
	}
	if f.counts.Pending > 0 {
		left += fmt.Sprintf(" ○%d", f.counts.Pending)
	}
	if f.counts.Failed > 0 {
		left += f.errorStyle.Render(fmt.Sprintf(" ✗%d", f.counts.Failed))
	}
	if f.counts.Cancelled > 0 {
		left += fmt.Sprintf(" ⊘%d", f.counts.Cancelled)
	}

	if f.done {
		if f.success {
			left = f.successStyle.Render("✓ " + f.message)
		} else {
			left = f.errorStyle.Render("✗ " + f.message)
		}
	}
	return left + f.separatorStyle.Render(" │ ") + f.hintStyle.Render(f.hints())
}

func (f *Footer) hints() string {
	switch {
	case f.done:
		return "Press q to exit"
	case f.paused:
		return "p resume · c cancel · q quit"
	default:
		return "p pause · c cancel · q quit"
	}
}
