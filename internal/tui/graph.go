package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/taskgraph/pkg/models"
)

// GraphView renders a dependency visualization as text, one parallel
// group per level.
type GraphView struct {
	headerStyle   lipgloss.Style
	nodeStyle     lipgloss.Style
	criticalStyle lipgloss.Style
	arrowStyle    lipgloss.Style
	statusStyles  map[models.TaskStatus]lipgloss.Style
}

// NewGraphView creates a new GraphView instance.
func NewGraphView() *GraphView {
	return &GraphView{
		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("7")),

		nodeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),

		criticalStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true),

		arrowStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		statusStyles: map[models.TaskStatus]lipgloss.Style{
			models.TaskStatusCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("28")),
			models.TaskStatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
			models.TaskStatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
			models.TaskStatusCancelled:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
			models.TaskStatusBlocked:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		},
	}
}

func (g *GraphView) icon(s models.TaskStatus) string {
	var sym string
	switch s {
	case models.TaskStatusCompleted:
		sym = "✓"
	case models.TaskStatusInProgress:
		sym = "●"
	case models.TaskStatusFailed:
		sym = "✗"
	case models.TaskStatusCancelled:
		sym = "⊘"
	case models.TaskStatusBlocked:
		sym = "◌"
	default:
		sym = "○"
	}
	if st, ok := g.statusStyles[s]; ok {
		return st.Render(sym)
	}
	return sym
}

// Render draws v. Nodes on the critical path are starred, and each node
// lists the nodes it waits for.
func (g *GraphView) Render(v *models.Visualization) string {
	if v == nil || len(v.Nodes) == 0 {
		return g.arrowStyle.Render("(empty graph)") + "\n"
	}

	nodes := make(map[string]models.VisualNode, len(v.Nodes))
	for _, n := range v.Nodes {
		nodes[n.ID] = n
	}
	waits := make(map[string][]string)
	for _, e := range v.Edges {
		waits[e.To] = append(waits[e.To], e.From)
	}
	critical := make(map[string]bool, len(v.CriticalPath))
	for _, id := range v.CriticalPath {
		critical[id] = true
	}

	label := func(id string) string {
		if n, ok := nodes[id]; ok && n.Label != "" {
			return n.Label
		}
		return id
	}

	var b strings.Builder
	placed := make(map[string]bool)
	for level, group := range v.Groups {
		fmt.Fprintf(&b, "%s\n", g.headerStyle.Render(fmt.Sprintf("Level %d (%d parallel)", level, len(group))))
		for _, id := range group {
			placed[id] = true
			g.writeNode(&b, nodes[id], critical[id], waits[id], label)
		}
	}

	// Nodes left out of every group sit on an unresolved cycle.
	var rest []string
	for _, n := range v.Nodes {
		if !placed[n.ID] {
			rest = append(rest, n.ID)
		}
	}
	if len(rest) > 0 {
		fmt.Fprintf(&b, "%s\n", g.headerStyle.Render("Unscheduled"))
		for _, id := range rest {
			g.writeNode(&b, nodes[id], critical[id], waits[id], label)
		}
	}

	if len(v.CriticalPath) > 0 {
		names := make([]string, len(v.CriticalPath))
		for i, id := range v.CriticalPath {
			names[i] = label(id)
		}
		fmt.Fprintf(&b, "\n%s %s\n", g.headerStyle.Render("Critical path:"),
			g.criticalStyle.Render(strings.Join(names, " → ")))
	}
	return b.String()
}

func (g *GraphView) writeNode(b *strings.Builder, n models.VisualNode, critical bool, waits []string, label func(string) string) {
	mark := " "
	name := g.nodeStyle.Render(n.Label)
	if critical {
		mark = g.criticalStyle.Render("*")
		name = g.criticalStyle.Render(n.Label)
	}
	fmt.Fprintf(b, "  %s %s %s %s", mark, g.icon(n.Status), name, g.arrowStyle.Render("("+n.ID+")"))
	if len(waits) > 0 {
		deps := make([]string, len(waits))
		for i, w := range waits {
			deps[i] = label(w)
		}
		fmt.Fprintf(b, " %s %s", g.arrowStyle.Render("←"), strings.Join(deps, ", "))
	}
	b.WriteString("\n")
}
