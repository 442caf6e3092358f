// Package engine drives workflow runs: decomposition, dependency analysis
// and concurrent execution of a task tree, with events for observers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/taskgraph/internal/analysis"
	"github.com/ShayCichocki/taskgraph/internal/classify"
	"github.com/ShayCichocki/taskgraph/internal/executor"
	"github.com/ShayCichocki/taskgraph/internal/logging"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

var (
	// ErrWorkflowNotFound is returned for unknown workflow IDs.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrInvalidTransition is returned when a run cannot move to the requested status.
	ErrInvalidTransition = errors.New("invalid workflow transition")
)

// CancelledMessage is the error text recorded on a cancelled run.
const CancelledMessage = "Workflow cancelled"

// maxDecomposeDepth bounds how far below the root auto-decomposition goes.
const maxDecomposeDepth = 2

// TaskStore is the persistence the engine needs.
type TaskStore interface {
	analysis.TaskStore
	executor.TaskStore
	CreateTask(ctx context.Context, t *models.Task) error
	GetSubtasks(ctx context.Context, id string) ([]*models.Task, error)
	ListByStatus(ctx context.Context, sessionID string, status models.TaskStatus) ([]*models.Task, error)
}

// Decomposer splits a task into subtasks, creating them in the store. It
// returns the created subtasks, or none when the task needs no splitting.
type Decomposer interface {
	Decompose(ctx context.Context, task *models.Task) ([]*models.Task, error)
}

// Options configures an Engine.
type Options struct {
	// Executor is the template for each run's executor. MaxParallel and
	// FailFast are taken from the run config instead.
	Executor   executor.Options
	Decomposer Decomposer
	Classifier classify.Classifier
	// EventBuffer is the event channel capacity.
	EventBuffer int
	Logger      logrus.FieldLogger
}

// WorkflowRequest describes a run to create.
type WorkflowRequest struct {
	SessionID   string
	Name        string
	Description string
	// RootTaskID selects an existing root. When empty a root task is created.
	RootTaskID string
	// Config defaults to models.DefaultWorkflowConfig.
	Config *models.WorkflowConfig
}

// WorkflowStatus is a snapshot of a run with its task tree.
type WorkflowStatus struct {
	Run     *models.WorkflowRun `json:"workflow"`
	Tree    models.Forest       `json:"task_tree"`
	Running []string            `json:"active_tasks"`
}

// Engine owns workflow runs. Each run gets its own executor.
type Engine struct {
	store      TaskStore
	analyzer   *analysis.Analyzer
	decomposer Decomposer
	execOpts   executor.Options
	emitter    *Emitter
	log        logrus.FieldLogger
	now        func() time.Time

	mu        sync.Mutex
	workflows map[string]*models.WorkflowRun
	order     []string
	active    map[string]*executor.Executor
}

// New creates an Engine.
func New(store TaskStore, opts Options) *Engine {
	log := logging.Component(opts.Logger, "engine")
	execOpts := opts.Executor
	if execOpts.Logger == nil {
		execOpts.Logger = opts.Logger
	}
	return &Engine{
		store:      store,
		analyzer:   analysis.New(store, opts.Classifier, opts.Logger),
		decomposer: opts.Decomposer,
		execOpts:   execOpts,
		emitter:    NewEmitter(opts.EventBuffer, log),
		log:        log,
		now:        time.Now,
		workflows:  make(map[string]*models.WorkflowRun),
		active:     make(map[string]*executor.Executor),
	}
}

// NewWorkflowID returns a fresh workflow identifier.
func NewWorkflowID() string {
	return "workflow_" + uuid.New().String()[:8]
}

// On registers a synchronous listener.
func (e *Engine) On(l Listener) { e.emitter.On(l) }

// OnAsync registers an asynchronous listener.
func (e *Engine) OnAsync(l AsyncListener) { e.emitter.OnAsync(l) }

// Events returns the buffered event channel. Events are dropped when it
// stays full.
func (e *Engine) Events() <-chan Event { return e.emitter.Events() }

// Close waits for asynchronous listeners and closes the event channel.
func (e *Engine) Close() error { return e.emitter.Close() }

// Analyzer exposes the engine's dependency analyzer.
func (e *Engine) Analyzer() *analysis.Analyzer { return e.analyzer }

// CreateWorkflow registers a pending run, creating its root task if needed.
func (e *Engine) CreateWorkflow(ctx context.Context, req WorkflowRequest) (*models.WorkflowRun, error) {
	cfg := models.DefaultWorkflowConfig()
	if req.Config != nil {
		cfg = *req.Config
	}
	if cfg.MaxParallel == 0 {
		cfg.MaxParallel = executor.DefaultParallel
	}
	if cfg.MaxParallel < executor.MinParallel || cfg.MaxParallel > executor.MaxParallel {
		return nil, fmt.Errorf("create workflow: max parallel %d: %w", cfg.MaxParallel, executor.ErrInvalidParallelism)
	}

	rootID := req.RootTaskID
	if rootID == "" {
		root := &models.Task{SessionID: req.SessionID, Name: req.Name, Description: req.Description}
		if err := e.store.CreateTask(ctx, root); err != nil {
			return nil, fmt.Errorf("create workflow root: %w", err)
		}
		rootID = root.ID
		e.emitter.Emit(Event{Type: EventTaskCreated, TaskID: root.ID, Status: root.Status})
	} else {
		root, err := e.store.GetTask(ctx, rootID)
		if err != nil {
			return nil, fmt.Errorf("create workflow: %w", err)
		}
		if root == nil {
			return nil, fmt.Errorf("create workflow: root %s: %w", rootID, analysis.ErrTaskTreeNotFound)
		}
		if req.SessionID == "" {
			req.SessionID = root.SessionID
		}
	}

	run := &models.WorkflowRun{
		ID:          NewWorkflowID(),
		SessionID:   req.SessionID,
		RootTaskID:  rootID,
		Name:        req.Name,
		Description: req.Description,
		Status:      models.RunPending,
		Config:      cfg,
		CreatedAt:   e.now(),
	}

	e.mu.Lock()
	e.workflows[run.ID] = run
	e.order = append(e.order, run.ID)
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{"workflow_id": run.ID, "root_task_id": rootID}).Info("workflow created")
	return snapshot(run), nil
}

// transition moves a run to status, stamping times.
func (e *Engine) transition(id string, to models.RunStatus, mutate func(*models.WorkflowRun)) (*models.WorkflowRun, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrWorkflowNotFound)
	}
	if !models.CanTransition(run.Status, to) {
		return nil, fmt.Errorf("workflow %s: %s -> %s: %w", id, run.Status, to, ErrInvalidTransition)
	}
	run.Status = to
	now := e.now()
	switch {
	case to == models.RunRunning:
		run.StartedAt = &now
	case to.IsTerminal():
		run.CompletedAt = &now
	}
	if mutate != nil {
		mutate(run)
	}
	return snapshot(run), nil
}

// Execute runs a pending workflow to completion and returns its result.
// Task failures are part of the result. A store or analysis failure fails
// the run and is returned. A run cancelled while executing returns its
// partial result with status cancelled.
func (e *Engine) Execute(ctx context.Context, id string) (*models.ExecutionResult, error) {
	run, err := e.transition(id, models.RunRunning, nil)
	if err != nil {
		return nil, err
	}
	log := e.log.WithField("workflow_id", id)
	log.Info("workflow started")
	e.emitter.Emit(Event{Type: EventWorkflowStarted, WorkflowID: id, TaskID: run.RootTaskID})
	defer e.emitter.Wait()

	result, err := e.execute(ctx, run)
	if err != nil {
		if _, terr := e.transition(id, models.RunFailed, func(r *models.WorkflowRun) { r.Error = err.Error() }); terr != nil {
			// Cancelled while failing; the cancellation stands.
			log.WithError(terr).Debug("failure not recorded")
		}
		log.WithError(err).Error("workflow failed")
		e.emitter.Emit(Event{Type: EventWorkflowFailed, WorkflowID: id, Message: err.Error(), Error: err})
		return nil, fmt.Errorf("execute workflow %s: %w", id, err)
	}

	if _, err := e.transition(id, models.RunCompleted, func(r *models.WorkflowRun) { r.Result = result }); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			result.Status = string(models.RunCancelled)
			e.mu.Lock()
			if r, ok := e.workflows[id]; ok {
				r.Result = result
			}
			e.mu.Unlock()
			log.Info("workflow cancelled during execution")
			return result, nil
		}
		return nil, err
	}
	log.WithFields(logrus.Fields{"completed": result.Completed, "failed": result.Failed}).Info("workflow completed")
	e.emitter.Emit(Event{Type: EventWorkflowCompleted, WorkflowID: id, Result: result})
	return result, nil
}

func (e *Engine) execute(ctx context.Context, run *models.WorkflowRun) (*models.ExecutionResult, error) {
	if run.Config.AutoDecompose && e.decomposer != nil {
		if err := e.decomposeAll(ctx, run); err != nil {
			return nil, err
		}
	}

	analyzed, err := e.analyzer.Analyze(ctx, run.SessionID, run.RootTaskID, run.Config.AutoInfer)
	if err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("%d tasks, %d cycles", analyzed.TaskCount, len(analyzed.Cycles))
	if analyzed.Resolution != nil {
		msg += fmt.Sprintf(", %d remaining", len(analyzed.Resolution.RemainingCycles))
	}
	e.emitter.Emit(Event{Type: EventDependencyResolved, WorkflowID: run.ID, TaskID: run.RootTaskID, Message: msg, Result: analyzed})

	// Reload so that inferred and resolved dependencies are visible.
	forest, err := e.analyzer.Tree(ctx, run.SessionID, run.RootTaskID)
	if err != nil {
		return nil, err
	}
	leaves := orderLeaves(forest.Leaves(), analyzed.ExecutionOrder)

	var pending []*models.Task
	alreadyDone := 0
	for _, t := range leaves {
		if t.Status == models.TaskStatusCompleted {
			alreadyDone++
			continue
		}
		pending = append(pending, t)
	}
	pending = withLeafDependencies(forest, pending)

	opts := e.execOpts
	opts.MaxParallel = run.Config.MaxParallel
	opts.FailFast = run.Config.FailFast
	opts.OnEvent = func(ev executor.Event) { e.forward(run.ID, ev) }
	ex, err := executor.New(e.store, opts)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if cur := e.workflows[run.ID]; cur != nil && cur.Status == models.RunCancelled {
		e.mu.Unlock()
		return &models.ExecutionResult{Status: string(models.RunCancelled), TotalTasks: len(leaves), Completed: alreadyDone, Results: []models.TaskResult{}}, nil
	}
	e.active[run.ID] = ex
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, run.ID)
		e.mu.Unlock()
	}()

	results, err := ex.Schedule(ctx, pending)
	if err != nil {
		return nil, err
	}

	out := &models.ExecutionResult{
		Status:     string(ex.State()),
		TotalTasks: len(leaves),
		Completed:  alreadyDone,
		Results:    results,
	}
	for _, r := range results {
		switch models.TaskStatus(r.Status) {
		case models.TaskStatusCompleted:
			out.Completed++
		case models.TaskStatusFailed:
			out.Failed++
		}
	}
	return out, nil
}

// decomposeAll splits childless tasks under the root, breadth first, down
// to maxDecomposeDepth levels below it.
func (e *Engine) decomposeAll(ctx context.Context, run *models.WorkflowRun) error {
	root, err := e.store.GetTask(ctx, run.RootTaskID)
	if err != nil {
		return fmt.Errorf("decompose: %w", err)
	}
	if root == nil {
		return fmt.Errorf("decompose: root %s: %w", run.RootTaskID, analysis.ErrTaskTreeNotFound)
	}

	type item struct {
		task  *models.Task
		depth int
	}
	queue := []item{{root, 0}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]

		children, err := e.store.GetSubtasks(ctx, it.task.ID)
		if err != nil {
			return fmt.Errorf("decompose %s: %w", it.task.ID, err)
		}
		if len(children) == 0 && it.depth < maxDecomposeDepth {
			created, err := e.decomposer.Decompose(ctx, it.task)
			if err != nil {
				return fmt.Errorf("decompose %s: %w", it.task.ID, err)
			}
			for _, c := range created {
				e.emitter.Emit(Event{Type: EventTaskCreated, WorkflowID: run.ID, TaskID: c.ID, ParentID: it.task.ID, Status: c.Status})
			}
			children = created
		}
		if it.depth+1 > maxDecomposeDepth {
			continue
		}
		for _, c := range children {
			queue = append(queue, item{c, it.depth + 1})
		}
	}
	return nil
}

// orderLeaves sorts leaves by their position in the execution order.
// Leaves missing from the order keep their relative position at the end.
func orderLeaves(leaves []*models.Task, order []string) []*models.Task {
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	rank := func(t *models.Task) int {
		if p, ok := pos[t.ID]; ok {
			return p
		}
		return len(order)
	}
	out := append([]*models.Task(nil), leaves...)
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

// withLeafDependencies returns copies of leaves whose dependencies are
// expressed on leaves only. Only leaves are scheduled, so a dependency on a
// container becomes a dependency on each of its descendant leaves, and a
// leaf also waits for whatever its ancestors depend on.
func withLeafDependencies(forest models.Forest, leaves []*models.Task) []*models.Task {
	nodes := make(map[string]*models.TaskTree)
	forest.Walk(func(n *models.TaskTree, _ int) bool {
		nodes[n.Task.ID] = n
		return true
	})
	under := make(map[string][]string)
	leavesUnder := func(id string) []string {
		if ids, ok := under[id]; ok {
			return ids
		}
		var ids []string
		nodes[id].Walk(func(n *models.TaskTree, _ int) bool {
			if n.IsLeaf() {
				ids = append(ids, n.Task.ID)
			}
			return true
		})
		under[id] = ids
		return ids
	}

	out := make([]*models.Task, 0, len(leaves))
	for _, t := range leaves {
		seen := map[string]bool{t.ID: true}
		var deps []string
		add := func(id string) {
			if !seen[id] {
				seen[id] = true
				deps = append(deps, id)
			}
		}
		visited := make(map[string]bool)
		for cur := t; cur != nil && !visited[cur.ID]; {
			visited[cur.ID] = true
			for _, dep := range cur.Dependencies {
				n, ok := nodes[dep]
				if !ok || n.IsLeaf() {
					add(dep)
					continue
				}
				for _, id := range leavesUnder(dep) {
					add(id)
				}
			}
			parent, ok := nodes[cur.ParentID]
			if !ok || cur.ParentID == "" {
				break
			}
			cur = parent.Task
		}
		c := t.Clone()
		c.Dependencies = deps
		out = append(out, c)
	}
	return out
}

func (e *Engine) forward(workflowID string, ev executor.Event) {
	out := Event{
		WorkflowID: workflowID,
		TaskID:     ev.TaskID,
		Progress:   ev.Progress,
		Result:     ev.Result,
		Error:      ev.Err,
		Timestamp:  ev.Time,
	}
	switch ev.Kind {
	case executor.EventStarted:
		out.Type, out.Status = EventTaskStarted, models.TaskStatusInProgress
	case executor.EventProgress:
		out.Type, out.Status = EventProgressUpdated, models.TaskStatusInProgress
	case executor.EventCompleted:
		out.Type, out.Status = EventTaskCompleted, models.TaskStatusCompleted
	case executor.EventFailed:
		out.Type, out.Status = EventTaskFailed, models.TaskStatusFailed
	case executor.EventCancelled:
		out.Type, out.Status = EventTaskCancelled, models.TaskStatusCancelled
	default:
		return
	}
	if ev.Err != nil {
		out.Message = ev.Err.Error()
	}
	e.emitter.Emit(out)
}

// Cancel cancels a pending or running workflow. Every outstanding task
// signal fires; in-flight task work is asked to stop but not interrupted.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	if _, err := e.transition(id, models.RunCancelled, func(r *models.WorkflowRun) { r.Error = CancelledMessage }); err != nil {
		return err
	}
	e.mu.Lock()
	ex := e.active[id]
	e.mu.Unlock()
	if ex != nil {
		ex.CancelAll()
	}

	e.log.WithField("workflow_id", id).Info("workflow cancelled")
	e.emitter.Emit(Event{Type: EventWorkflowCancelled, WorkflowID: id, Message: CancelledMessage})
	e.emitter.Emit(Event{Type: EventWorkflowFailed, WorkflowID: id, Message: CancelledMessage, Error: errors.New(CancelledMessage)})
	return nil
}

func (e *Engine) executorFor(id string) (*executor.Executor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.workflows[id]; !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrWorkflowNotFound)
	}
	return e.active[id], nil
}

// Pause stops new task dispatch in a running workflow. It reports false if
// the workflow is not executing or already paused.
func (e *Engine) Pause(id string) (bool, error) {
	ex, err := e.executorFor(id)
	if err != nil || ex == nil {
		return false, err
	}
	return ex.Pause(), nil
}

// Resume reopens dispatch in a paused workflow.
func (e *Engine) Resume(id string) (bool, error) {
	ex, err := e.executorFor(id)
	if err != nil || ex == nil {
		return false, err
	}
	return ex.Resume(), nil
}

// Workflow returns a snapshot of a run.
func (e *Engine) Workflow(id string) (*models.WorkflowRun, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrWorkflowNotFound)
	}
	return snapshot(run), nil
}

// Workflows returns snapshots of every run in creation order.
func (e *Engine) Workflows() []*models.WorkflowRun {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*models.WorkflowRun, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, snapshot(e.workflows[id]))
	}
	return out
}

// Status returns a run with its current task tree and running tasks.
func (e *Engine) Status(ctx context.Context, id string) (*WorkflowStatus, error) {
	run, err := e.Workflow(id)
	if err != nil {
		return nil, err
	}
	tree, err := e.store.GetTree(ctx, run.SessionID, run.RootTaskID)
	if err != nil {
		return nil, fmt.Errorf("workflow status: %w", err)
	}
	st := &WorkflowStatus{Run: run, Tree: tree, Running: []string{}}
	e.mu.Lock()
	ex := e.active[id]
	e.mu.Unlock()
	if ex != nil {
		st.Running = ex.Running()
	}
	return st, nil
}

// ParallelReadyTasks returns pending leaf tasks whose in-tree dependencies
// are all completed, highest priority first.
func (e *Engine) ParallelReadyTasks(ctx context.Context, sessionID, rootID string) ([]*models.Task, error) {
	forest, err := e.store.GetTree(ctx, sessionID, rootID)
	if err != nil {
		return nil, fmt.Errorf("ready tasks: %w", err)
	}
	status := make(map[string]models.TaskStatus)
	for _, t := range forest.Tasks() {
		status[t.ID] = t.Status
	}

	ready := []*models.Task{}
	for _, t := range forest.Leaves() {
		if t.Status != models.TaskStatusPending {
			continue
		}
		ok := true
		for _, d := range t.Dependencies {
			if st, in := status[d]; in && st != models.TaskStatusCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool { return ready[i].Priority > ready[j].Priority })
	return ready, nil
}

// DependencyGraph returns the visualization payload for a session or subtree.
func (e *Engine) DependencyGraph(ctx context.Context, sessionID, rootID string) (*models.Visualization, error) {
	return e.analyzer.Visualize(ctx, sessionID, rootID)
}

func snapshot(r *models.WorkflowRun) *models.WorkflowRun {
	c := *r
	if r.Result != nil {
		res := *r.Result
		res.Results = append([]models.TaskResult(nil), r.Result.Results...)
		c.Result = &res
	}
	return &c
}
