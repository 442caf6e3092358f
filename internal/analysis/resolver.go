package analysis

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/taskgraph/internal/graph"
	"github.com/ShayCichocki/taskgraph/internal/logging"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

// Resolution strategy names, in the order they are tried.
const (
	StrategyPriorityDrop  = "priority_drop"
	StrategyFirstEdgeDrop = "first_edge_drop"
	StrategyMerge         = "merge"
	// StrategyAlreadyBroken marks a cycle that an earlier removal already broke.
	StrategyAlreadyBroken = "already_broken"
)

// DependencyRemover persists the removal of a dependency edge.
type DependencyRemover interface {
	RemoveDependency(ctx context.Context, taskID, dependsOn string) (bool, error)
}

// Resolver detects and breaks dependency cycles.
type Resolver struct {
	store DependencyRemover
	log   logrus.FieldLogger
}

// NewResolver creates a Resolver. With a nil store, removals only touch the graph.
func NewResolver(store DependencyRemover, log logrus.FieldLogger) *Resolver {
	return &Resolver{store: store, log: logging.Component(log, "analysis")}
}

// DetectCycles returns every elementary cycle of g.
func (r *Resolver) DetectCycles(g *graph.Graph) [][]string {
	return g.SimpleCycles()
}

type strategy struct {
	name string
	fn   func(ctx context.Context, g *graph.Graph, cycle []string, priority map[string]int) error
}

// Resolve tries to break each cycle, trying priority-drop, first-edge-drop
// and merge in that order and stopping at the first success. priority maps
// task IDs to their priority; missing IDs count as 0.
//
// Resolution is best effort. Cycles still present in g afterwards are
// reported in RemainingCycles.
func (r *Resolver) Resolve(ctx context.Context, g *graph.Graph, cycles [][]string, priority map[string]int) *models.ResolutionReport {
	report := &models.ResolutionReport{
		CyclesFound:     len(cycles),
		Resolutions:     []models.CycleResolution{},
		RemainingCycles: [][]string{},
	}
	strategies := []strategy{
		{StrategyPriorityDrop, r.priorityDrop},
		{StrategyFirstEdgeDrop, r.firstEdgeDrop},
		{StrategyMerge, r.merge},
	}

	for _, cycle := range cycles {
		if !intact(g, cycle) {
			report.Resolutions = append(report.Resolutions, models.CycleResolution{
				Cycle: cycle, Strategy: StrategyAlreadyBroken, Success: true,
			})
			continue
		}

		for _, s := range strategies {
			err := s.fn(ctx, g, cycle, priority)
			if err == nil {
				report.Resolutions = append(report.Resolutions, models.CycleResolution{
					Cycle: cycle, Strategy: s.name, Success: true,
				})
				r.log.WithField("strategy", s.name).Infof("resolved cycle %v", cycle)
				break
			}
			report.Resolutions = append(report.Resolutions, models.CycleResolution{
				Cycle: cycle, Strategy: s.name, Success: false, Error: err.Error(),
			})
		}
	}

	report.RemainingCycles = append(report.RemainingCycles, g.SimpleCycles()...)
	if n := len(report.RemainingCycles); n > 0 {
		r.log.Warnf("%d cycle(s) remain after resolution", n)
	}
	return report
}

// Unresolved returns an error wrapping ErrCycleUnresolved when report still
// has cycles, and nil otherwise.
func Unresolved(report *models.ResolutionReport) error {
	if report == nil || len(report.RemainingCycles) == 0 {
		return nil
	}
	return fmt.Errorf("%d cycle(s) remain: %w", len(report.RemainingCycles), ErrCycleUnresolved)
}

// intact reports whether every edge of cycle is still in g.
func intact(g *graph.Graph, cycle []string) bool {
	for i, from := range cycle {
		if !g.HasEdge(from, cycle[(i+1)%len(cycle)]) {
			return false
		}
	}
	return true
}

// priorityDrop removes the edge from the lowest-priority task to its
// successor in the cycle. Ties go to the task listed first.
func (r *Resolver) priorityDrop(ctx context.Context, g *graph.Graph, cycle []string, priority map[string]int) error {
	if len(cycle) < 2 {
		return fmt.Errorf("cycle too short")
	}
	lowest := 0
	for i := 1; i < len(cycle); i++ {
		if priority[cycle[i]] < priority[cycle[lowest]] {
			lowest = i
		}
	}
	return r.dropEdge(ctx, g, cycle[lowest], cycle[(lowest+1)%len(cycle)])
}

// firstEdgeDrop removes the edge between the first two tasks of the cycle.
func (r *Resolver) firstEdgeDrop(ctx context.Context, g *graph.Graph, cycle []string, _ map[string]int) error {
	if len(cycle) < 2 {
		return fmt.Errorf("cycle too short")
	}
	return r.dropEdge(ctx, g, cycle[0], cycle[1])
}

// merge would collapse the cycle into a single task. It is not supported.
func (r *Resolver) merge(context.Context, *graph.Graph, []string, map[string]int) error {
	return fmt.Errorf("merging tasks is not supported")
}

// dropEdge removes from -> to from g and takes from out of to's persisted
// dependency set. The graph edge is restored if persisting fails.
func (r *Resolver) dropEdge(ctx context.Context, g *graph.Graph, from, to string) error {
	if !g.RemoveEdge(from, to) {
		return fmt.Errorf("edge %s -> %s not in graph", from, to)
	}
	if r.store == nil {
		return nil
	}
	removed, err := r.store.RemoveDependency(ctx, to, from)
	if err != nil {
		g.AddEdge(from, to)
		return fmt.Errorf("remove dependency %s -> %s: %w", from, to, err)
	}
	if !removed {
		r.log.Debugf("edge %s -> %s was not a persisted dependency", from, to)
	}
	return nil
}
