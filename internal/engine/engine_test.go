package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/taskgraph/internal/analysis"
	"github.com/ShayCichocki/taskgraph/internal/executor"
	"github.com/ShayCichocki/taskgraph/internal/state"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

func openStore(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func newSession(t *testing.T, db *state.DB) string {
	t.Helper()
	s := &models.Session{Name: "engine"}
	require.NoError(t, db.CreateSession(context.Background(), s))
	return s.ID
}

func addTask(t *testing.T, db *state.DB, sid, id, parent string, priority int, deps ...string) {
	t.Helper()
	require.NoError(t, db.CreateTask(context.Background(), &models.Task{
		ID: id, SessionID: sid, ParentID: parent, Name: id, Priority: priority, Dependencies: deps,
	}))
}

func newTestEngine(t *testing.T, db *state.DB, opts Options) *Engine {
	t.Helper()
	if opts.Executor.StepDelay == 0 {
		opts.Executor.StepDelay = time.Millisecond
	}
	if opts.EventBuffer == 0 {
		opts.EventBuffer = 1024
	}
	e := New(db, opts)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func manual() *models.WorkflowConfig {
	return &models.WorkflowConfig{MaxParallel: 2}
}

// recorder collects event types from a synchronous listener.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) find(typ EventType) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == typ {
			return ev, true
		}
	}
	return Event{}, false
}

func TestCreateWorkflow_CreatesRoot(t *testing.T) {
	db := openStore(t)
	sid := newSession(t, db)
	e := newTestEngine(t, db, Options{})
	rec := &recorder{}
	e.On(rec.listen)

	run, err := e.CreateWorkflow(context.Background(), WorkflowRequest{SessionID: sid, Name: "Ship release"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(run.ID, "workflow_"))
	assert.Len(t, run.ID, len("workflow_")+8)
	assert.Equal(t, models.RunPending, run.Status)
	assert.Equal(t, models.DefaultWorkflowConfig(), run.Config)

	root, err := db.GetTask(context.Background(), run.RootTaskID)
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Equal(t, "Ship release", root.Name)
	assert.Equal(t, sid, root.SessionID)

	ev, ok := rec.find(EventTaskCreated)
	require.True(t, ok)
	assert.Equal(t, run.RootTaskID, ev.TaskID)
}

func TestCreateWorkflow_ExistingRoot(t *testing.T) {
	db := openStore(t)
	sid := newSession(t, db)
	addTask(t, db, sid, "root", "", 0)
	e := newTestEngine(t, db, Options{})

	run, err := e.CreateWorkflow(context.Background(), WorkflowRequest{RootTaskID: "root", Name: "r"})
	require.NoError(t, err)
	assert.Equal(t, sid, run.SessionID)

	_, err = e.CreateWorkflow(context.Background(), WorkflowRequest{RootTaskID: "missing"})
	assert.ErrorIs(t, err, analysis.ErrTaskTreeNotFound)

	_, err = e.CreateWorkflow(context.Background(), WorkflowRequest{RootTaskID: "root", Config: &models.WorkflowConfig{MaxParallel: 40}})
	assert.ErrorIs(t, err, executor.ErrInvalidParallelism)
}

func TestExecute_RespectsDependencies(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	sid := newSession(t, db)
	addTask(t, db, sid, "main", "", 0)
	addTask(t, db, sid, "x", "main", 0)
	addTask(t, db, sid, "y", "main", 0)
	addTask(t, db, sid, "z", "main", 9, "x")

	var xWhenZ models.TaskStatus
	e := newTestEngine(t, db, Options{Executor: executor.Options{
		Execute: func(ctx context.Context, task *models.Task) (any, error) {
			if task.ID == "z" {
				x, err := db.GetTask(ctx, "x")
				if err != nil {
					return nil, err
				}
				xWhenZ = x.Status
			}
			return task.ID, nil
		},
	}})
	rec := &recorder{}
	e.On(rec.listen)

	run, err := e.CreateWorkflow(ctx, WorkflowRequest{RootTaskID: "main", Name: "main", Config: manual()})
	require.NoError(t, err)

	result, err := e.Execute(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, 3, result.TotalTasks)
	assert.Equal(t, 3, result.Completed)
	assert.Zero(t, result.Failed)
	assert.Equal(t, models.TaskStatusCompleted, xWhenZ)

	main, err := db.GetTask(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, main.Status)
	assert.InDelta(t, 1.0, main.Progress, 1e-9)
	assert.Contains(t, main.Metadata, analysis.MetadataKey)

	got, err := e.Workflow(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.Result)
	assert.Equal(t, 3, got.Result.Completed)

	for _, typ := range []EventType{EventWorkflowStarted, EventDependencyResolved, EventTaskStarted, EventTaskCompleted, EventWorkflowCompleted} {
		_, ok := rec.find(typ)
		assert.True(t, ok, "missing %s event", typ)
	}
}

func TestExecute_ContainerDependencies(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	sid := newSession(t, db)
	addTask(t, db, sid, "main", "", 0)
	addTask(t, db, sid, "backend", "main", 0)
	addTask(t, db, sid, "b1", "backend", 0)
	addTask(t, db, sid, "b2", "backend", 0)
	addTask(t, db, sid, "frontend", "main", 9, "backend")
	addTask(t, db, sid, "ui", "main", 9, "backend")
	addTask(t, db, sid, "u1", "ui", 9)

	var mu sync.Mutex
	seen := make(map[string]models.TaskStatus)
	e := newTestEngine(t, db, Options{Executor: executor.Options{
		Execute: func(ctx context.Context, task *models.Task) (any, error) {
			if task.ID == "frontend" || task.ID == "u1" {
				backend, err := db.GetTask(ctx, "backend")
				if err != nil {
					return nil, err
				}
				mu.Lock()
				seen[task.ID] = backend.Status
				mu.Unlock()
			}
			return task.ID, nil
		},
	}})

	run, err := e.CreateWorkflow(ctx, WorkflowRequest{RootTaskID: "main", Name: "main", Config: &models.WorkflowConfig{MaxParallel: 1}})
	require.NoError(t, err)
	result, err := e.Execute(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Completed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, models.TaskStatusCompleted, seen["frontend"])
	assert.Equal(t, models.TaskStatusCompleted, seen["u1"])
}

func TestWithLeafDependencies(t *testing.T) {
	forest := models.BuildForest([]*models.Task{
		{ID: "main"},
		{ID: "api", ParentID: "main", Dependencies: []string{"db"}},
		{ID: "a1", ParentID: "api", Dependencies: []string{"a2", "external"}},
		{ID: "a2", ParentID: "api"},
		{ID: "db", ParentID: "main"},
		{ID: "d1", ParentID: "db"},
		{ID: "d2", ParentID: "db"},
	})

	got := withLeafDependencies(forest, forest.Leaves())
	deps := make(map[string][]string)
	for _, task := range got {
		deps[task.ID] = task.Dependencies
	}
	assert.Equal(t, []string{"a2", "external", "d1", "d2"}, deps["a1"])
	assert.Equal(t, []string{"d1", "d2"}, deps["a2"])
	assert.Empty(t, deps["d1"])

	// The stored tasks are untouched.
	assert.Equal(t, []string{"a2", "external"}, forest.Find("a1").Task.Dependencies)
}

func TestExecute_TaskFailureIsNotFatal(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	sid := newSession(t, db)
	addTask(t, db, sid, "main", "", 0)
	addTask(t, db, sid, "ok", "main", 0)
	addTask(t, db, sid, "bad", "main", 0)

	e := newTestEngine(t, db, Options{Executor: executor.Options{
		Execute: func(ctx context.Context, task *models.Task) (any, error) {
			if task.ID == "bad" {
				return nil, errors.New("broken")
			}
			return nil, nil
		},
	}})

	run, err := e.CreateWorkflow(ctx, WorkflowRequest{RootTaskID: "main", Config: manual()})
	require.NoError(t, err)
	result, err := e.Execute(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 1, result.Failed)

	got, _ := e.Workflow(run.ID)
	assert.Equal(t, models.RunCompleted, got.Status)
}

func TestExecute_SkipsCompletedLeaves(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	sid := newSession(t, db)
	addTask(t, db, sid, "main", "", 0)
	addTask(t, db, sid, "done", "main", 0)
	addTask(t, db, sid, "todo", "main", 0, "done")
	completed := models.TaskStatusCompleted
	require.NoError(t, db.UpdateProgress(ctx, "done", 1, &completed))

	var ran []string
	var mu sync.Mutex
	e := newTestEngine(t, db, Options{Executor: executor.Options{
		Execute: func(ctx context.Context, task *models.Task) (any, error) {
			mu.Lock()
			ran = append(ran, task.ID)
			mu.Unlock()
			return nil, nil
		},
	}})

	run, err := e.CreateWorkflow(ctx, WorkflowRequest{RootTaskID: "main", Config: manual()})
	require.NoError(t, err)
	result, err := e.Execute(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"todo"}, ran)
	assert.Equal(t, 2, result.TotalTasks)
	assert.Equal(t, 2, result.Completed)
}

func TestExecute_FatalErrorFailsRun(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	sid := newSession(t, db)
	addTask(t, db, sid, "main", "", 0)

	e := newTestEngine(t, db, Options{})
	rec := &recorder{}
	e.On(rec.listen)

	run, err := e.CreateWorkflow(ctx, WorkflowRequest{RootTaskID: "main", Config: manual()})
	require.NoError(t, err)
	require.NoError(t, db.DeleteTask(ctx, "main"))

	_, err = e.Execute(ctx, run.ID)
	assert.ErrorIs(t, err, analysis.ErrTaskTreeNotFound)

	got, _ := e.Workflow(run.ID)
	assert.Equal(t, models.RunFailed, got.Status)
	assert.NotEmpty(t, got.Error)

	ev, ok := rec.find(EventWorkflowFailed)
	require.True(t, ok)
	assert.ErrorIs(t, ev.Error, analysis.ErrTaskTreeNotFound)
}

func TestExecute_Transitions(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	sid := newSession(t, db)
	addTask(t, db, sid, "main", "", 0)
	e := newTestEngine(t, db, Options{})

	_, err := e.Execute(ctx, "workflow_missing")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	run, err := e.CreateWorkflow(ctx, WorkflowRequest{RootTaskID: "main", Config: manual()})
	require.NoError(t, err)
	_, err = e.Execute(ctx, run.ID)
	require.NoError(t, err)

	_, err = e.Execute(ctx, run.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, e.Cancel(ctx, run.ID), ErrInvalidTransition)
}

// splitter splits the root into two subtasks, the second after the first.
type splitter struct {
	db    *state.DB
	calls int
}

func (s *splitter) Decompose(ctx context.Context, task *models.Task) ([]*models.Task, error) {
	s.calls++
	if task.ParentID != "" {
		return nil, nil
	}
	first := &models.Task{SessionID: task.SessionID, ParentID: task.ID, Name: "first"}
	if err := s.db.CreateTask(ctx, first); err != nil {
		return nil, err
	}
	second := &models.Task{SessionID: task.SessionID, ParentID: task.ID, Name: "second", Dependencies: []string{first.ID}}
	if err := s.db.CreateTask(ctx, second); err != nil {
		return nil, err
	}
	return []*models.Task{first, second}, nil
}

func TestExecute_AutoDecompose(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	sid := newSession(t, db)
	d := &splitter{db: db}
	e := newTestEngine(t, db, Options{Decomposer: d})
	rec := &recorder{}
	e.On(rec.listen)

	cfg := models.DefaultWorkflowConfig()
	run, err := e.CreateWorkflow(ctx, WorkflowRequest{SessionID: sid, Name: "Build it", Config: &cfg})
	require.NoError(t, err)

	result, err := e.Execute(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, d.calls, "root plus both new subtasks")
	assert.Equal(t, 2, result.TotalTasks)
	assert.Equal(t, 2, result.Completed)

	subs, err := db.GetSubtasks(ctx, run.RootTaskID)
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	ev, ok := rec.find(EventTaskCreated)
	require.True(t, ok)
	assert.Equal(t, run.RootTaskID, ev.TaskID)
}

func TestCancel_RunningWorkflow(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	sid := newSession(t, db)
	addTask(t, db, sid, "main", "", 0)
	addTask(t, db, sid, "slow", "main", 0)
	addTask(t, db, sid, "after", "main", 0, "slow")

	e := newTestEngine(t, db, Options{Executor: executor.Options{
		Execute: func(ctx context.Context, task *models.Task) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}})
	rec := &recorder{}
	e.On(rec.listen)

	run, err := e.CreateWorkflow(ctx, WorkflowRequest{RootTaskID: "main", Config: manual()})
	require.NoError(t, err)

	type outcome struct {
		res *models.ExecutionResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := e.Execute(ctx, run.ID)
		done <- outcome{res, err}
	}()

	require.Eventually(t, func() bool {
		st, err := e.Status(ctx, run.ID)
		return err == nil && len(st.Running) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, e.Cancel(ctx, run.ID))

	var out outcome
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after Cancel")
	}
	require.NoError(t, out.err)
	assert.Equal(t, string(models.RunCancelled), out.res.Status)

	got, _ := e.Workflow(run.ID)
	assert.Equal(t, models.RunCancelled, got.Status)
	assert.Equal(t, CancelledMessage, got.Error)

	slow, _ := db.GetTask(ctx, "slow")
	assert.Equal(t, models.TaskStatusCancelled, slow.Status)

	_, ok := rec.find(EventWorkflowCancelled)
	assert.True(t, ok)
	ev, ok := rec.find(EventWorkflowFailed)
	require.True(t, ok)
	assert.Equal(t, CancelledMessage, ev.Message)
}

func TestCancel_PendingWorkflow(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	sid := newSession(t, db)
	addTask(t, db, sid, "main", "", 0)
	e := newTestEngine(t, db, Options{})

	run, err := e.CreateWorkflow(ctx, WorkflowRequest{RootTaskID: "main"})
	require.NoError(t, err)
	require.NoError(t, e.Cancel(ctx, run.ID))

	_, err = e.Execute(ctx, run.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, e.Cancel(ctx, "workflow_missing"), ErrWorkflowNotFound)
}

func TestExecute_ListenerPanicDoesNotAbort(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	sid := newSession(t, db)
	addTask(t, db, sid, "main", "", 0)
	addTask(t, db, sid, "leaf", "main", 0)

	e := newTestEngine(t, db, Options{})
	e.On(func(Event) error { panic("bad listener") })
	e.OnAsync(func(Event) error { return errors.New("async failure") })

	run, err := e.CreateWorkflow(ctx, WorkflowRequest{RootTaskID: "main", Config: manual()})
	require.NoError(t, err)
	result, err := e.Execute(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
}

func TestPauseResume_Unknown(t *testing.T) {
	db := openStore(t)
	sid := newSession(t, db)
	addTask(t, db, sid, "main", "", 0)
	e := newTestEngine(t, db, Options{})

	_, err := e.Pause("workflow_missing")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	run, err := e.CreateWorkflow(context.Background(), WorkflowRequest{RootTaskID: "main"})
	require.NoError(t, err)
	ok, err := e.Pause(run.ID)
	require.NoError(t, err)
	assert.False(t, ok, "nothing to pause before execution")
	ok, err = e.Resume(run.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParallelReadyTasks(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	sid := newSession(t, db)
	addTask(t, db, sid, "main", "", 0)
	addTask(t, db, sid, "a", "main", 1)
	addTask(t, db, sid, "b", "main", 5)
	addTask(t, db, sid, "c", "main", 0, "a")
	e := newTestEngine(t, db, Options{})

	ready, err := e.ParallelReadyTasks(ctx, sid, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(ready))

	completed := models.TaskStatusCompleted
	require.NoError(t, db.UpdateProgress(ctx, "a", 1, &completed))

	ready, err = e.ParallelReadyTasks(ctx, sid, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(ready))
}

func TestDependencyGraph(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	sid := newSession(t, db)
	addTask(t, db, sid, "main", "", 0)
	addTask(t, db, sid, "x", "main", 0)
	e := newTestEngine(t, db, Options{})

	v, err := e.DependencyGraph(ctx, sid, "main")
	require.NoError(t, err)
	assert.Len(t, v.Nodes, 2)
	assert.Equal(t, []models.VisualEdge{{From: "x", To: "main"}}, v.Edges)
}

func TestWorkflows_CreationOrder(t *testing.T) {
	db := openStore(t)
	sid := newSession(t, db)
	e := newTestEngine(t, db, Options{})

	var want []string
	for _, name := range []string{"one", "two", "three"} {
		run, err := e.CreateWorkflow(context.Background(), WorkflowRequest{SessionID: sid, Name: name})
		require.NoError(t, err)
		want = append(want, run.ID)
	}
	var got []string
	for _, r := range e.Workflows() {
		got = append(got, r.ID)
	}
	assert.Equal(t, want, got)
}

func ids(tasks []*models.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
