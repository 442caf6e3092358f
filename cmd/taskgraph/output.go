package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/ShayCichocki/taskgraph/pkg/models"
)

// printStatus prints a status line with color
func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// statusColor maps a task status to its display color.
func statusColor(s models.TaskStatus) color.Attribute {
	switch s {
	case models.TaskStatusCompleted:
		return color.FgGreen
	case models.TaskStatusInProgress:
		return color.FgCyan
	case models.TaskStatusFailed:
		return color.FgRed
	case models.TaskStatusCancelled, models.TaskStatusBlocked:
		return color.FgYellow
	default:
		return color.FgWhite
	}
}

func statusSymbol(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusCompleted:
		return "✓"
	case models.TaskStatusInProgress:
		return "●"
	case models.TaskStatusFailed:
		return "✗"
	case models.TaskStatusCancelled:
		return "⊘"
	case models.TaskStatusBlocked:
		return "◌"
	default:
		return "○"
	}
}

// printForest prints each tree indented by depth.
func printForest(w io.Writer, forest models.Forest) {
	forest.Walk(func(node *models.TaskTree, depth int) bool {
		t := node.Task
		line := fmt.Sprintf("%s%s  %s", strings.Repeat("  ", depth), t.Name, color.HiBlackString(t.ID))
		if t.Progress > 0 && t.Progress < 1 {
			line += fmt.Sprintf(" %.0f%%", t.Progress*100)
		}
		if len(t.Dependencies) > 0 {
			line += color.HiBlackString(" ← " + strings.Join(t.Dependencies, ", "))
		}
		printStatus(w, statusSymbol(t.Status), line, statusColor(t.Status))
		return true
	})
}

// names maps task IDs to names for display.
func names(tasks []*models.Task) map[string]string {
	m := make(map[string]string, len(tasks))
	for _, t := range tasks {
		m[t.ID] = t.Name
	}
	return m
}

func label(names map[string]string, id string) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return id
}

func labels(names map[string]string, ids []string) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = label(names, id)
	}
	return strings.Join(out, " → ")
}
