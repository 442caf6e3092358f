// Package analysis builds dependency graphs from task hierarchies, resolves
// cycles, and derives execution order, critical path and parallel groups.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/taskgraph/internal/classify"
	"github.com/ShayCichocki/taskgraph/internal/graph"
	"github.com/ShayCichocki/taskgraph/internal/logging"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

var (
	// ErrTaskTreeNotFound is returned when the requested session or root has no tasks.
	ErrTaskTreeNotFound = errors.New("task tree not found")
	// ErrCycleUnresolved reports cycles left after resolution. It never stops scheduling.
	ErrCycleUnresolved = errors.New("dependency cycle unresolved")
)

// MetadataKey is the root task metadata key the analysis result is saved under.
const MetadataKey = "dependency_analysis"

// TaskStore is the persistence the analyzer needs.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	GetTree(ctx context.Context, sessionID, rootID string) (models.Forest, error)
	AddDependency(ctx context.Context, taskID, dependsOn string) (bool, error)
	RemoveDependency(ctx context.Context, taskID, dependsOn string) (bool, error)
	UpdateMetadata(ctx context.Context, id, key string, value any) error
}

// Analyzer runs the full dependency analysis over a stored task tree.
type Analyzer struct {
	store    TaskStore
	builder  *Builder
	resolver *Resolver
	log      logrus.FieldLogger
	now      func() time.Time
}

// New creates an Analyzer. A nil classifier uses keyword classification.
func New(store TaskStore, c classify.Classifier, log logrus.FieldLogger) *Analyzer {
	return &Analyzer{
		store:    store,
		builder:  NewBuilder(c, log),
		resolver: NewResolver(store, log),
		log:      logging.Component(log, "analysis"),
		now:      time.Now,
	}
}

// Tree loads the forest for sessionID, restricted to rootID when set.
func (a *Analyzer) Tree(ctx context.Context, sessionID, rootID string) (models.Forest, error) {
	forest, err := a.store.GetTree(ctx, sessionID, rootID)
	if err != nil {
		return nil, fmt.Errorf("load task tree: %w", err)
	}
	if len(forest) == 0 {
		return nil, fmt.Errorf("session %s root %q: %w", sessionID, rootID, ErrTaskTreeNotFound)
	}
	return forest, nil
}

// Analyze rebuilds the dependency graph for a session or subtree, persists
// inferred dependencies, resolves cycles and computes the schedule. When
// rootID is set the result is also saved into the root task's metadata.
//
// Remaining cycles are reported in the result, not returned as an error.
func (a *Analyzer) Analyze(ctx context.Context, sessionID, rootID string, autoInfer bool) (*models.AnalysisResult, error) {
	forest, err := a.Tree(ctx, sessionID, rootID)
	if err != nil {
		return nil, err
	}

	g, inferred := a.builder.Build(forest, autoInfer)
	for _, e := range inferred {
		if _, err := a.store.AddDependency(ctx, e.Task, e.DependsOn); err != nil {
			return nil, fmt.Errorf("persist inferred dependency %s -> %s: %w", e.DependsOn, e.Task, err)
		}
	}

	result := &models.AnalysisResult{
		Status:     models.AnalysisOK,
		TaskCount:  g.Len(),
		Cycles:     [][]string{},
		AnalyzedAt: a.now(),
	}

	if cycles := a.resolver.DetectCycles(g); len(cycles) > 0 {
		result.Cycles = cycles
		report := a.resolver.Resolve(ctx, g, cycles, priorities(forest))
		result.Resolution = report
		if err := Unresolved(report); err != nil {
			result.Status = models.AnalysisCyclesRemaining
			a.log.WithError(err).Warn("scheduling with unresolved cycles")
		}
	}

	result.ExecutionOrder, result.OrderValid = ExecutionOrder(g)
	result.CriticalPath = CriticalPath(g)
	result.ParallelizableGroups = ParallelGroups(g)

	a.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"tasks":      result.TaskCount,
		"edges":      g.EdgeCount(),
		"inferred":   len(inferred),
		"cycles":     len(result.Cycles),
	}).Info("dependency analysis complete")

	if rootID != "" {
		if err := a.store.UpdateMetadata(ctx, rootID, MetadataKey, result); err != nil {
			return nil, fmt.Errorf("save analysis: %w", err)
		}
	}
	return result, nil
}

// Graph builds the dependency graph for a session or subtree without
// inference or resolution.
func (a *Analyzer) Graph(ctx context.Context, sessionID, rootID string) (*graph.Graph, models.Forest, error) {
	forest, err := a.Tree(ctx, sessionID, rootID)
	if err != nil {
		return nil, nil, err
	}
	g, _ := a.builder.Build(forest, false)
	return g, forest, nil
}

// Visualize returns the graph payload for renderers.
func (a *Analyzer) Visualize(ctx context.Context, sessionID, rootID string) (*models.Visualization, error) {
	g, forest, err := a.Graph(ctx, sessionID, rootID)
	if err != nil {
		return nil, err
	}
	return Visualization(g, forest), nil
}

// Visualization renders g with labels and statuses taken from forest.
func Visualization(g *graph.Graph, forest models.Forest) *models.Visualization {
	tasks := make(map[string]*models.Task)
	for _, t := range forest.Tasks() {
		tasks[t.ID] = t
	}

	v := &models.Visualization{
		Nodes:        []models.VisualNode{},
		Edges:        []models.VisualEdge{},
		Groups:       ParallelGroups(g),
		CriticalPath: CriticalPath(g).Tasks,
	}
	for _, id := range g.Nodes() {
		node := models.VisualNode{ID: id, Label: id, Status: "unknown"}
		if t, ok := tasks[id]; ok {
			node.Label = t.Name
			node.Status = t.Status
		}
		v.Nodes = append(v.Nodes, node)
	}
	for _, e := range g.Edges() {
		v.Edges = append(v.Edges, models.VisualEdge{From: e.From, To: e.To})
	}
	return v
}

func priorities(forest models.Forest) map[string]int {
	p := make(map[string]int)
	for _, t := range forest.Tasks() {
		p[t.ID] = t.Priority
	}
	return p
}
