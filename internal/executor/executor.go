// Package executor runs leaf tasks concurrently under a permit bound,
// suspending each task until its dependencies have signalled completion.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/taskgraph/internal/logging"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

var (
	// ErrDependencyTimeout fails a task whose dependency did not signal in time.
	ErrDependencyTimeout = errors.New("dependency wait timed out")
	// ErrDependencyFailed fails a task whose dependency failed.
	ErrDependencyFailed = errors.New("dependency failed")
	// ErrExecutionCallback wraps any error returned by an ExecuteFunc.
	ErrExecutionCallback = errors.New("execution callback failed")
	// ErrTaskNotFound is returned for task IDs unknown to the executor and the store.
	ErrTaskNotFound = errors.New("task not found")
	// ErrExecutionRunning is returned for operations that require an idle executor.
	ErrExecutionRunning = errors.New("execution already running")
	// ErrInvalidParallelism is returned for a parallelism outside the allowed range.
	ErrInvalidParallelism = errors.New("invalid parallelism")
	// ErrNotHandled is returned by an ExecuteFunc to hand a task to the
	// default stepper.
	ErrNotHandled = errors.New("task not handled")
)

// Limits and defaults.
const (
	MinParallel              = 1
	MaxParallel              = 16
	MaxTunedParallel         = 10
	DefaultParallel          = 4
	DefaultDependencyTimeout = 300 * time.Second
	DefaultStepDelay         = 100 * time.Millisecond
	historyRecent            = 10
)

// stepperProgress are the progress values the default stepper reports.
var stepperProgress = []float64{0.25, 0.5, 0.75, 1.0}

// State is the executor's run state.
type State string

const (
	StateIdle       State = "idle"
	StateScheduling State = "scheduling"
	StateRunning    State = "running"
	StatePaused     State = "paused"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// TaskStore is the persistence the executor needs.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateProgress(ctx context.Context, id string, progress float64, status *models.TaskStatus) error
}

// ExecuteFunc does the work of one task. The context is cancelled when the
// task or run is cancelled; honouring it is up to the callback.
type ExecuteFunc func(ctx context.Context, task *models.Task) (any, error)

// Options configures an Executor.
type Options struct {
	// MaxParallel bounds concurrent tasks; 0 means DefaultParallel.
	MaxParallel int
	// DependencyTimeout is the ceiling on each dependency wait; 0 means the default.
	DependencyTimeout time.Duration
	// StepDelay is the pause between default stepper updates; 0 means the default.
	StepDelay time.Duration
	// Execute replaces the default stepper when set.
	Execute ExecuteFunc
	// FailFast cancels the remaining tasks after the first failure.
	FailFast bool
	// OnEvent, if set, receives task lifecycle events. It is called without
	// executor locks held, possibly from several goroutines at once.
	OnEvent func(Event)
	Logger  logrus.FieldLogger
}

// TaskExecutionState tracks one task during a run.
type TaskExecutionState struct {
	TaskID       string
	Priority     int
	Dependencies []string
	Status       models.TaskStatus
	Signal       *Signal
	StartedAt    time.Time
	EndedAt      time.Time
	Result       any
	Err          error

	task   *models.Task
	cancel context.CancelFunc
}

// Executor runs leaf tasks with bounded concurrency.
type Executor struct {
	store      TaskStore
	execute    ExecuteFunc
	depTimeout time.Duration
	stepDelay  time.Duration
	failFast   bool
	onEvent    func(Event)
	log        logrus.FieldLogger

	mu          sync.Mutex
	state       State
	maxParallel int
	tasks       map[string]*TaskExecutionState
	order       []string
	running     []string
	history     []HistoryEntry
	stats       Stats
	gate        *PauseController
	permits     *permitPool
	cancelRun   context.CancelFunc
	cancelled   bool
}

// New creates an Executor.
func New(store TaskStore, opts Options) (*Executor, error) {
	if opts.MaxParallel == 0 {
		opts.MaxParallel = DefaultParallel
	}
	if err := validParallelism(opts.MaxParallel); err != nil {
		return nil, err
	}
	if opts.DependencyTimeout <= 0 {
		opts.DependencyTimeout = DefaultDependencyTimeout
	}
	if opts.StepDelay <= 0 {
		opts.StepDelay = DefaultStepDelay
	}
	log := logging.Component(opts.Logger, "executor")
	return &Executor{
		store:       store,
		execute:     opts.Execute,
		depTimeout:  opts.DependencyTimeout,
		stepDelay:   opts.StepDelay,
		failFast:    opts.FailFast,
		onEvent:     opts.OnEvent,
		log:         log,
		state:       StateIdle,
		maxParallel: opts.MaxParallel,
		tasks:       make(map[string]*TaskExecutionState),
		gate:        NewPauseController(log),
		permits:     newPermitPool(opts.MaxParallel),
	}, nil
}

func validParallelism(n int) error {
	if n < MinParallel || n > MaxParallel {
		return fmt.Errorf("max parallel %d not in [%d, %d]: %w", n, MinParallel, MaxParallel, ErrInvalidParallelism)
	}
	return nil
}

func (e *Executor) activeLocked() bool {
	return e.state == StateScheduling || e.state == StateRunning || e.state == StatePaused
}

// SetMaxParallel changes the permit pool size between runs.
func (e *Executor) SetMaxParallel(n int) error {
	if err := validParallelism(n); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeLocked() {
		return ErrExecutionRunning
	}
	e.maxParallel = n
	return nil
}

// MaxParallel returns the current permit pool size.
func (e *Executor) MaxParallel() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxParallel
}

// SetExecuteFunc replaces the execution callback. A nil fn restores the
// default stepper.
func (e *Executor) SetExecuteFunc(fn ExecuteFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.execute = fn
}

// Schedule runs tasks and blocks until every one of them has finished,
// failed or been cancelled. Tasks are started in descending priority order
// but dispatch among ready tasks is first come, first served on the permit
// pool. Results come back in the order tasks were given.
//
// Task failures are reported in the results, not as an error.
func (e *Executor) Schedule(ctx context.Context, tasks []*models.Task) ([]models.TaskResult, error) {
	e.mu.Lock()
	if e.activeLocked() {
		e.mu.Unlock()
		return nil, ErrExecutionRunning
	}
	// A CancelAll that landed before the first run still applies to it.
	preCancelled := e.state == StateIdle && e.cancelled
	e.state = StateScheduling

	runCtx, cancel := context.WithCancel(ctx)
	if preCancelled {
		cancel()
	}
	e.cancelRun = cancel
	e.cancelled = preCancelled
	e.tasks = make(map[string]*TaskExecutionState, len(tasks))
	e.order = e.order[:0]
	e.running = nil
	e.gate = NewPauseController(e.log)
	e.permits = newPermitPool(e.maxParallel)

	queue := make([]*TaskExecutionState, 0, len(tasks))
	for _, t := range tasks {
		if _, dup := e.tasks[t.ID]; dup {
			continue
		}
		ts := &TaskExecutionState{
			TaskID:       t.ID,
			Priority:     t.Priority,
			Dependencies: append([]string(nil), t.Dependencies...),
			Status:       models.TaskStatusPending,
			Signal:       NewSignal(),
			task:         t.Clone(),
		}
		e.tasks[t.ID] = ts
		e.order = append(e.order, t.ID)
		queue = append(queue, ts)
	}
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].Priority > queue[j].Priority })
	e.state = StateRunning
	e.mu.Unlock()

	e.log.WithField("tasks", len(queue)).Infof("scheduling with max parallel %d", e.MaxParallel())
	start := time.Now()

	var g errgroup.Group
	for _, ts := range queue {
		g.Go(func() error {
			e.runTask(runCtx, ts)
			return nil
		})
	}
	_ = g.Wait()
	cancel()
	e.gate.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	results := make([]models.TaskResult, 0, len(e.order))
	failed := false
	for _, id := range e.order {
		ts := e.tasks[id]
		r := models.TaskResult{TaskID: id, Status: string(ts.Status), Result: ts.Result}
		if ts.Err != nil {
			r.Error = ts.Err.Error()
		}
		if ts.Status == models.TaskStatusFailed {
			failed = true
		}
		results = append(results, r)
	}
	e.state = StateCompleted
	if failed {
		e.state = StateFailed
	}
	e.cancelRun = nil
	e.log.WithField("duration", time.Since(start)).Infof("run finished: %s", e.state)
	return results, nil
}

// runTask waits for dependencies, takes a permit and dispatches the task.
func (e *Executor) runTask(ctx context.Context, ts *TaskExecutionState) {
	defer ts.Signal.Fire()

	for _, dep := range ts.Dependencies {
		if err := e.awaitDependency(ctx, ts.TaskID, dep); err != nil {
			if ctx.Err() != nil {
				e.finishCancelled(ts)
				return
			}
			e.finish(ts, nil, err)
			return
		}
	}

	if err := e.acquire(ctx); err != nil {
		e.finishCancelled(ts)
		return
	}
	defer e.permits.release()

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if ts.Status == models.TaskStatusCancelled {
		e.mu.Unlock()
		return
	}
	ts.Status = models.TaskStatusInProgress
	ts.StartedAt = time.Now()
	ts.cancel = cancel
	e.running = append(e.running, ts.TaskID)
	execute := e.execute
	e.mu.Unlock()

	inProgress := models.TaskStatusInProgress
	if err := e.store.UpdateProgress(ctx, ts.TaskID, 0, &inProgress); err != nil {
		e.log.WithError(err).WithField("task_id", ts.TaskID).Warn("persist start failed")
	}
	e.emit(Event{Kind: EventStarted, TaskID: ts.TaskID})

	var result any
	var err error
	if execute != nil {
		result, err = execute(taskCtx, ts.task.Clone())
		switch {
		case errors.Is(err, ErrNotHandled):
			execute = nil
		case err != nil:
			err = fmt.Errorf("task %s: %w: %w", ts.TaskID, ErrExecutionCallback, err)
		}
	}
	if execute == nil {
		result, err = e.step(taskCtx, ts)
	}

	if err != nil && ctx.Err() != nil {
		e.finishCancelled(ts)
		return
	}
	e.finish(ts, result, err)
}

// acquire passes the pause gate and takes a permit. A permit taken while a
// pause is in effect is put back and the gate is waited on again.
func (e *Executor) acquire(ctx context.Context) error {
	for {
		if err := e.gate.WaitIfPaused(ctx); err != nil {
			return err
		}
		if err := e.permits.acquire(ctx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			e.permits.release()
			return err
		}
		if !e.gate.IsPaused() {
			return nil
		}
		e.permits.release()
	}
}

// awaitDependency blocks until dep signals, the ceiling passes or ctx ends.
// Dependencies outside the run are not waited on.
func (e *Executor) awaitDependency(ctx context.Context, taskID, depID string) error {
	e.mu.Lock()
	dep, ok := e.tasks[depID]
	e.mu.Unlock()
	if !ok {
		e.log.WithField("task_id", taskID).Debugf("dependency %s is outside the run, not waiting", depID)
		return nil
	}

	timer := time.NewTimer(e.depTimeout)
	defer timer.Stop()
	select {
	case <-dep.Signal.Done():
	case <-timer.C:
		return fmt.Errorf("task %s waited %s for %s: %w", taskID, e.depTimeout, depID, ErrDependencyTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	e.mu.Lock()
	status := dep.Status
	e.mu.Unlock()
	if status == models.TaskStatusFailed {
		return fmt.Errorf("task %s: dependency %s: %w", taskID, depID, ErrDependencyFailed)
	}
	return nil
}

// step is the default ExecuteFunc: it walks progress up to 1.0 with a pause
// before each update.
func (e *Executor) step(ctx context.Context, ts *TaskExecutionState) (any, error) {
	inProgress := models.TaskStatusInProgress
	for _, p := range stepperProgress {
		select {
		case <-time.After(e.stepDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if p < 1 {
			if err := e.store.UpdateProgress(ctx, ts.TaskID, p, &inProgress); err != nil {
				return nil, fmt.Errorf("record progress: %w", err)
			}
		}
		e.emit(Event{Kind: EventProgress, TaskID: ts.TaskID, Progress: p})
	}
	return map[string]any{
		"task_id": ts.TaskID,
		"name":    ts.task.Name,
		"status":  string(models.TaskStatusCompleted),
	}, nil
}

// finish records a task outcome, persists it and appends history.
func (e *Executor) finish(ts *TaskExecutionState, result any, err error) {
	e.mu.Lock()
	if ts.Status == models.TaskStatusCancelled {
		e.mu.Unlock()
		return
	}
	ts.EndedAt = time.Now()
	if ts.StartedAt.IsZero() {
		ts.StartedAt = ts.EndedAt
	}
	ts.Result = result
	ts.Err = err
	status, progress := models.TaskStatusCompleted, 1.0
	if err != nil {
		status, progress = models.TaskStatusFailed, 0
	}
	ts.Status = status
	e.removeRunningLocked(ts.TaskID)
	e.recordLocked(ts)
	failFast := e.failFast && err != nil
	e.mu.Unlock()

	// The run context may already be cancelled; the outcome must still be stored.
	if perr := e.store.UpdateProgress(context.Background(), ts.TaskID, progress, &status); perr != nil {
		e.log.WithError(perr).WithField("task_id", ts.TaskID).Warn("persist outcome failed")
	}
	ts.Signal.Fire()

	if err != nil {
		e.log.WithError(err).WithField("task_id", ts.TaskID).Warn("task failed")
		e.emit(Event{Kind: EventFailed, TaskID: ts.TaskID, Err: err})
	} else {
		e.log.WithField("task_id", ts.TaskID).Debug("task completed")
		e.emit(Event{Kind: EventCompleted, TaskID: ts.TaskID, Progress: 1, Result: result})
	}

	if failFast {
		e.log.WithField("task_id", ts.TaskID).Warn("fail fast: cancelling remaining tasks")
		e.CancelAll()
	}
}

// finishCancelled marks a task cancelled unless it already finished.
func (e *Executor) finishCancelled(ts *TaskExecutionState) {
	e.mu.Lock()
	if ts.Status.IsTerminal() {
		e.mu.Unlock()
		return
	}
	e.markCancelledLocked(ts)
	e.mu.Unlock()
	e.persistCancelled(ts.TaskID)
}

func (e *Executor) markCancelledLocked(ts *TaskExecutionState) {
	ts.Status = models.TaskStatusCancelled
	ts.EndedAt = time.Now()
	if ts.StartedAt.IsZero() {
		ts.StartedAt = ts.EndedAt
	}
	if ts.cancel != nil {
		ts.cancel()
	}
	e.removeRunningLocked(ts.TaskID)
	e.recordLocked(ts)
}

func (e *Executor) persistCancelled(id string) {
	cancelled := models.TaskStatusCancelled
	if err := e.store.UpdateProgress(context.Background(), id, 0, &cancelled); err != nil {
		e.log.WithError(err).WithField("task_id", id).Warn("persist cancellation failed")
	}
	e.emit(Event{Kind: EventCancelled, TaskID: id})
}

// CancelTask cancels one task. A task in the current run is removed from the
// running set and its signal fires; in-flight work is only asked to stop.
// A task outside the run is marked cancelled in the store.
func (e *Executor) CancelTask(ctx context.Context, id string) error {
	e.mu.Lock()
	ts, ok := e.tasks[id]
	if ok {
		if ts.Status.IsTerminal() {
			e.mu.Unlock()
			return nil
		}
		e.markCancelledLocked(ts)
	}
	e.mu.Unlock()

	if !ok {
		t, err := e.store.GetTask(ctx, id)
		if err != nil {
			return fmt.Errorf("cancel task: %w", err)
		}
		if t == nil {
			return fmt.Errorf("cancel task %s: %w", id, ErrTaskNotFound)
		}
	}

	e.persistCancelled(id)
	if ok {
		ts.Signal.Fire()
	}
	e.log.WithField("task_id", id).Info("task cancelled")
	return nil
}

// CancelAll cancels the current run. Every outstanding signal fires so that
// waiters unblock immediately. Called before the executor's first run, it
// cancels that run as soon as it is scheduled.
func (e *Executor) CancelAll() {
	e.mu.Lock()
	e.cancelled = true
	if e.cancelRun != nil {
		e.cancelRun()
	}
	signals := make([]*Signal, 0, len(e.tasks))
	for _, ts := range e.tasks {
		signals = append(signals, ts.Signal)
	}
	gate := e.gate
	e.mu.Unlock()

	gate.Stop()
	for _, s := range signals {
		s.Fire()
	}
	e.log.Info("run cancelled")
}

// Cancelled reports whether the current or last run was cancelled.
func (e *Executor) Cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// Pause stops new dispatches and takes every available permit. Running tasks
// keep their permits. It reports false if no run was in progress.
func (e *Executor) Pause() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return false
	}
	e.state = StatePaused
	e.gate.Pause()
	n := e.permits.drain()
	e.log.Debugf("pause holding %d permit(s)", n)
	return true
}

// Resume returns exactly the permits taken by Pause and reopens dispatch.
// It reports false if the executor was not paused.
func (e *Executor) Resume() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		return false
	}
	n := e.permits.restore()
	e.gate.Resume()
	e.state = StateRunning
	e.log.Debugf("resume returned %d permit(s)", n)
	return true
}

// HeldPermits returns the number of permits withheld by a pause.
func (e *Executor) HeldPermits() int {
	e.mu.Lock()
	p := e.permits
	e.mu.Unlock()
	return p.heldCount()
}

// AvailablePermits returns the number of permits free for dispatch.
func (e *Executor) AvailablePermits() int {
	e.mu.Lock()
	p := e.permits
	e.mu.Unlock()
	return p.available()
}

// State returns the run state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Running returns the IDs of dispatched tasks in dispatch order.
func (e *Executor) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.running...)
}

// TaskState returns a copy of a task's execution state.
func (e *Executor) TaskState(id string) (TaskExecutionState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts, ok := e.tasks[id]
	if !ok {
		return TaskExecutionState{}, false
	}
	c := *ts
	c.Dependencies = append([]string(nil), ts.Dependencies...)
	c.task = nil
	c.cancel = nil
	return c, true
}

func (e *Executor) removeRunningLocked(id string) {
	for i, r := range e.running {
		if r == id {
			e.running = append(e.running[:i], e.running[i+1:]...)
			return
		}
	}
}

func (e *Executor) emit(ev Event) {
	if e.onEvent == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.onEvent(ev)
}
