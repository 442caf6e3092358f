// Package decompose splits complex tasks into subtasks, either from fixed
// templates keyed by task type or by asking Claude.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/taskgraph/internal/classify"
	"github.com/ShayCichocki/taskgraph/internal/logging"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

// DefaultThreshold is the complexity score at which a task is split.
const DefaultThreshold = 3.0

// MetadataKey is the parent task metadata key describing its decomposition.
const MetadataKey = "decomposition"

// Store is the persistence decomposers need.
type Store interface {
	CreateTask(ctx context.Context, t *models.Task) error
	UpdateMetadata(ctx context.Context, id, key string, value any) error
}

// Record is saved on the parent under MetadataKey.
type Record struct {
	Provider     string            `json:"provider"`
	TaskType     classify.TaskType `json:"task_type"`
	Complexity   float64           `json:"complexity_score"`
	Subtasks     []string          `json:"subtasks"`
	DecomposedAt time.Time         `json:"decomposed_at"`
}

// Template splits tasks into the five template steps for their type.
type Template struct {
	store      Store
	classifier classify.Classifier
	threshold  float64
	log        logrus.FieldLogger
}

// NewTemplate creates a Template decomposer. A nil classifier uses keyword
// classification and a non-positive threshold uses DefaultThreshold.
func NewTemplate(store Store, c classify.Classifier, threshold float64, log logrus.FieldLogger) *Template {
	if c == nil {
		c = classify.NewKeywordClassifier()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Template{
		store:      store,
		classifier: c,
		threshold:  threshold,
		log:        logging.Component(log, "decompose"),
	}
}

// Assess classifies a task and scores its complexity. split reports whether
// the score reaches the threshold.
func (d *Template) Assess(task *models.Task) (t classify.TaskType, score float64, split bool) {
	t = d.classifier.Classify(task.Name, task.Description)
	score = classify.Complexity(task.Name, task.Description, t)
	return t, score, score >= d.threshold
}

// Decompose creates template subtasks under task when it is complex enough.
// Each subtask depends on the one before it.
func (d *Template) Decompose(ctx context.Context, task *models.Task) ([]*models.Task, error) {
	t, score, split := d.Assess(task)
	if !split {
		d.log.WithField("task_id", task.ID).Debugf("complexity %.2f below %.2f, not splitting", score, d.threshold)
		return nil, nil
	}
	return create(ctx, d.store, task, classify.Plan(task.Name, t), Record{
		Provider:   "template",
		TaskType:   t,
		Complexity: score,
	}, d.log)
}

// create persists plans as subtasks of parent and records the decomposition.
func create(ctx context.Context, store Store, parent *models.Task, plans []classify.SubtaskPlan, rec Record, log logrus.FieldLogger) ([]*models.Task, error) {
	created := make([]*models.Task, 0, len(plans))
	for _, p := range plans {
		sub := &models.Task{
			SessionID:   parent.SessionID,
			ParentID:    parent.ID,
			Name:        p.Name,
			Description: p.Description,
			Priority:    p.Priority,
			Status:      models.TaskStatusPending,
		}
		for _, j := range p.After {
			sub.Dependencies = append(sub.Dependencies, created[j].ID)
		}
		if err := store.CreateTask(ctx, sub); err != nil {
			return created, fmt.Errorf("create subtask %q: %w", p.Name, err)
		}
		created = append(created, sub)
		rec.Subtasks = append(rec.Subtasks, sub.ID)
	}

	rec.DecomposedAt = time.Now()
	if err := store.UpdateMetadata(ctx, parent.ID, MetadataKey, rec); err != nil {
		return created, fmt.Errorf("record decomposition: %w", err)
	}
	log.WithFields(logrus.Fields{
		"task_id":  parent.ID,
		"provider": rec.Provider,
		"type":     rec.TaskType,
		"subtasks": len(created),
	}).Info("task decomposed")
	return created, nil
}

// plannedTask is the JSON shape of one subtask in a model response.
type plannedTask struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Priority    int      `json:"priority"`
	DependsOn   []string `json:"depends_on"`
}

// ParseResponse extracts the JSON array of subtasks from a model response.
// Dependencies are given by subtask name and must refer to another subtask
// in the same response.
func ParseResponse(response string) ([]classify.SubtaskPlan, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || end <= start {
		preview := response
		if len(preview) > 200 {
			preview = preview[:200] + "... (truncated)"
		}
		return nil, fmt.Errorf("no valid JSON array found in response (got %d chars): %q", len(response), preview)
	}

	var planned []plannedTask
	if err := json.Unmarshal([]byte(response[start:end+1]), &planned); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}
	if len(planned) == 0 {
		return nil, fmt.Errorf("empty task list returned")
	}

	index := make(map[string]int, len(planned))
	for i, p := range planned {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("subtask %d has no name", i)
		}
		if _, dup := index[p.Name]; dup {
			return nil, fmt.Errorf("duplicate subtask name %q", p.Name)
		}
		index[p.Name] = i
	}

	plans := make([]classify.SubtaskPlan, len(planned))
	for i, p := range planned {
		plans[i] = classify.SubtaskPlan{
			Name:        p.Name,
			Description: p.Description,
			Priority:    min(max(p.Priority, 0), 10),
		}
		for _, dep := range p.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("unknown dependency %q for subtask %q", dep, p.Name)
			}
			plans[i].After = append(plans[i].After, j)
		}
	}
	if err := ValidateNoCycles(plans); err != nil {
		return nil, err
	}
	return topoSort(plans), nil
}

// ValidateNoCycles checks that plan dependencies form no cycle.
func ValidateNoCycles(plans []classify.SubtaskPlan) error {
	state := make([]int, len(plans)) // 0=unvisited, 1=visiting, 2=visited

	var visit func(i int, path []int) error
	visit = func(i int, path []int) error {
		if state[i] == 2 {
			return nil
		}
		if state[i] == 1 {
			var names []string
			for k, p := range path {
				if p == i {
					for _, q := range path[k:] {
						names = append(names, plans[q].Name)
					}
					break
				}
			}
			names = append(names, plans[i].Name)
			return fmt.Errorf("circular dependency detected: %s", strings.Join(names, " -> "))
		}
		state[i] = 1
		for _, j := range plans[i].After {
			if err := visit(j, append(path, i)); err != nil {
				return err
			}
		}
		state[i] = 2
		return nil
	}

	for i := range plans {
		if err := visit(i, nil); err != nil {
			return err
		}
	}
	return nil
}

// topoSort reorders acyclic plans so every plan follows the plans it
// depends on, remapping After indexes. Input order is kept where possible.
func topoSort(plans []classify.SubtaskPlan) []classify.SubtaskPlan {
	placed := make([]int, len(plans))
	for i := range placed {
		placed[i] = -1
	}
	out := make([]classify.SubtaskPlan, 0, len(plans))
	for len(out) < len(plans) {
		for i, p := range plans {
			if placed[i] >= 0 {
				continue
			}
			ready := true
			for _, j := range p.After {
				if placed[j] < 0 {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			np := p
			np.After = nil
			for _, j := range p.After {
				np.After = append(np.After, placed[j])
			}
			placed[i] = len(out)
			out = append(out, np)
		}
	}
	return out
}
