package analysis

import (
	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/taskgraph/internal/classify"
	"github.com/ShayCichocki/taskgraph/internal/graph"
	"github.com/ShayCichocki/taskgraph/internal/logging"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

// InferredEdge is a dependency added by sibling type inference: Task depends
// on DependsOn.
type InferredEdge struct {
	Task          string
	DependsOn     string
	TaskType      classify.TaskType
	DependsOnType classify.TaskType
}

// Builder turns a task forest into a dependency graph.
type Builder struct {
	classifier classify.Classifier
	log        logrus.FieldLogger
}

// NewBuilder creates a Builder. A nil classifier falls back to the keyword classifier.
func NewBuilder(c classify.Classifier, log logrus.FieldLogger) *Builder {
	if c == nil {
		c = classify.NewKeywordClassifier()
	}
	return &Builder{classifier: c, log: logging.Component(log, "analysis")}
}

// Build returns a freshly built graph for forest. Edges are added in this order:
//
//   - child -> parent for every containment link
//   - dep -> task for every declared dependency; ids outside the forest
//     become nodes with no task behind them
//   - inferred sibling edges when autoInfer is set; roots count as siblings
//
// The inferred edges that were not already present are returned so the
// caller can persist them.
func (b *Builder) Build(forest models.Forest, autoInfer bool) (*graph.Graph, []InferredEdge) {
	g := graph.New()

	forest.Walk(func(n *models.TaskTree, _ int) bool {
		g.AddNode(n.Task.ID)
		return true
	})

	forest.Walk(func(n *models.TaskTree, _ int) bool {
		for _, child := range n.Children {
			g.AddEdge(child.Task.ID, n.Task.ID)
		}
		for _, dep := range n.Task.Dependencies {
			if !g.HasNode(dep) {
				b.log.WithField("task_id", n.Task.ID).Debugf("dependency %s is outside the tree", dep)
			}
			g.AddEdge(dep, n.Task.ID)
		}
		return true
	})

	if !autoInfer {
		return g, nil
	}

	types := make(map[string]classify.TaskType)
	typeOf := func(t *models.Task) classify.TaskType {
		if tt, ok := types[t.ID]; ok {
			return tt
		}
		tt := b.classifier.Classify(t.Name, t.Description)
		types[t.ID] = tt
		return tt
	}

	// A declared edge in one direction wins over an inferred edge in the
	// other, so a cycle broken in an earlier analysis is not re-inferred.
	declared := g.Clone()

	var inferred []InferredEdge
	add := func(task, dep *models.Task, taskType, depType classify.TaskType) {
		if !classify.DependsOn(taskType, depType) || declared.HasEdge(task.ID, dep.ID) {
			return
		}
		if g.AddEdge(dep.ID, task.ID) {
			inferred = append(inferred, InferredEdge{Task: task.ID, DependsOn: dep.ID, TaskType: taskType, DependsOnType: depType})
		}
	}
	infer := func(siblings []*models.TaskTree) {
		for i := 0; i < len(siblings); i++ {
			for j := i + 1; j < len(siblings); j++ {
				a, c := siblings[i].Task, siblings[j].Task
				ta, tc := typeOf(a), typeOf(c)
				add(a, c, ta, tc)
				add(c, a, tc, ta)
			}
		}
	}

	infer(forest)
	forest.Walk(func(n *models.TaskTree, _ int) bool {
		if len(n.Children) > 1 {
			infer(n.Children)
		}
		return true
	})

	if len(inferred) > 0 {
		b.log.Debugf("inferred %d sibling dependencies", len(inferred))
	}
	return g, inferred
}
