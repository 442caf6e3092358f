// Package tui provides the terminal progress view for workflow runs.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/taskgraph/internal/engine"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

// Controller is the run control the key bindings drive.
type Controller interface {
	Pause(workflowID string) (bool, error)
	Resume(workflowID string) (bool, error)
	Cancel(ctx context.Context, workflowID string) error
}

// NameFunc resolves a task ID to a display name.
type NameFunc func(taskID string) string

// EventMsg wraps an engine event.
type EventMsg struct {
	Event engine.Event
}

// DoneMsg is sent when Execute returns.
type DoneMsg struct {
	Result *models.ExecutionResult
	Err    error
}

// eventsClosedMsg is sent when the event channel closes.
type eventsClosedMsg struct{}

type tickMsg time.Time

type nameMsg struct {
	taskID string
	name   string
}

// Options configures an App.
type Options struct {
	WorkflowID  string
	Title       string
	Events      <-chan engine.Event
	Controller  Controller
	Names       NameFunc
	RefreshRate time.Duration
}

// App is the bubbletea model for a workflow run.
type App struct {
	opts     Options
	tasks    *TasksPanel
	logs     *LogsPanel
	footer   *Footer
	spinner  spinner.Model
	bar      progress.Model
	started  time.Time
	now      time.Time
	status   models.RunStatus
	paused   bool
	done     bool
	width    int
	quitting bool

	titleStyle lipgloss.Style
	dimStyle   lipgloss.Style
}

// New creates an App.
func New(opts Options) *App {
	if opts.RefreshRate <= 0 {
		opts.RefreshRate = 100 * time.Millisecond
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))

	now := time.Now()
	return &App{
		opts:    opts,
		tasks:   NewTasksPanel(),
		logs:    NewLogsPanel(200),
		footer:  NewFooter(),
		spinner: sp,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		started: now,
		now:     now,
		status:  models.RunPending,
		width:   80,

		titleStyle: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75")),
		dimStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	}
}

// WaitForEvent returns a command that delivers the next event from ch.
func WaitForEvent(ch <-chan engine.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(a.opts.RefreshRate, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (a *App) lookupName(id string) tea.Cmd {
	if a.opts.Names == nil || id == "" {
		return nil
	}
	names := a.opts.Names
	return func() tea.Msg {
		return nameMsg{taskID: id, name: names(id)}
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.tick(), WaitForEvent(a.opts.Events))
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a, a.handleKey(msg.String())

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.bar.Width = max(10, min(60, msg.Width-30))

	case tickMsg:
		a.now = time.Time(msg)
		if a.done {
			return a, nil
		}
		return a, a.tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case progress.FrameMsg:
		m, cmd := a.bar.Update(msg)
		a.bar = m.(progress.Model)
		return a, cmd

	case nameMsg:
		if msg.name != "" {
			a.tasks.SetName(msg.taskID, msg.name)
		}

	case EventMsg:
		cmd := a.handleEvent(msg.Event)
		return a, tea.Batch(cmd, WaitForEvent(a.opts.Events))

	case eventsClosedMsg:
		a.opts.Events = nil

	case DoneMsg:
		a.done = true
		switch {
		case msg.Err != nil:
			a.status = models.RunFailed
			a.footer.SetDone(false, msg.Err.Error())
		case msg.Result != nil && msg.Result.Status == string(models.RunCancelled):
			a.status = models.RunCancelled
			a.footer.SetDone(false, "Workflow cancelled")
		case msg.Result != nil:
			a.status = models.RunCompleted
			a.footer.SetDone(msg.Result.Failed == 0,
				fmt.Sprintf("%d/%d tasks completed, %d failed", msg.Result.Completed, msg.Result.TotalTasks, msg.Result.Failed))
		}
	}
	return a, nil
}

func (a *App) handleKey(key string) tea.Cmd {
	switch key {
	case "q", "ctrl+c":
		// Leaving an active run cancels it.
		if !a.done && a.opts.Controller != nil {
			ctrl, id := a.opts.Controller, a.opts.WorkflowID
			go ctrl.Cancel(context.Background(), id)
		}
		a.quitting = true
		return tea.Quit
	case "p":
		if a.done || a.opts.Controller == nil {
			return nil
		}
		var err error
		if a.paused {
			_, err = a.opts.Controller.Resume(a.opts.WorkflowID)
		} else {
			_, err = a.opts.Controller.Pause(a.opts.WorkflowID)
		}
		if err != nil {
			a.logs.Add(time.Now(), LogLevelError, "", err.Error())
			return nil
		}
		a.paused = !a.paused
		a.footer.SetPaused(a.paused)
	case "c":
		if a.done || a.opts.Controller == nil {
			return nil
		}
		if err := a.opts.Controller.Cancel(context.Background(), a.opts.WorkflowID); err != nil {
			a.logs.Add(time.Now(), LogLevelError, "", err.Error())
		}
	}
	return nil
}

func (a *App) handleEvent(ev engine.Event) tea.Cmd {
	if a.opts.WorkflowID != "" && ev.WorkflowID != "" && ev.WorkflowID != a.opts.WorkflowID {
		return nil
	}
	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	var cmd tea.Cmd
	switch ev.Type {
	case engine.EventWorkflowStarted:
		a.status = models.RunRunning
		a.started = at
		a.logs.Add(at, LogLevelInfo, "", "workflow started")
	case engine.EventTaskCreated:
		if a.tasks.Upsert(ev.TaskID, models.TaskStatusPending, 0) {
			cmd = a.lookupName(ev.TaskID)
		}
	case engine.EventDependencyResolved:
		a.logs.Add(at, LogLevelInfo, "", "dependencies resolved: "+ev.Message)
	case engine.EventTaskStarted, engine.EventProgressUpdated,
		engine.EventTaskCompleted, engine.EventTaskFailed, engine.EventTaskCancelled:
		p := ev.Progress
		if ev.Type == engine.EventTaskCompleted {
			p = 1
		}
		if a.tasks.Upsert(ev.TaskID, ev.Status, p) {
			cmd = a.lookupName(ev.TaskID)
		}
		switch ev.Type {
		case engine.EventTaskStarted:
			a.logs.Add(at, LogLevelInfo, ev.TaskID, "started")
		case engine.EventTaskCompleted:
			a.logs.Add(at, LogLevelInfo, ev.TaskID, "completed")
		case engine.EventTaskFailed:
			a.logs.Add(at, LogLevelError, ev.TaskID, "failed: "+ev.Message)
		case engine.EventTaskCancelled:
			a.logs.Add(at, LogLevelWarn, ev.TaskID, "cancelled")
		}
	case engine.EventWorkflowCancelled:
		a.status = models.RunCancelled
		a.logs.Add(at, LogLevelWarn, "", ev.Message)
	case engine.EventWorkflowFailed:
		if a.status != models.RunCancelled {
			a.status = models.RunFailed
		}
		a.logs.Add(at, LogLevelError, "", ev.Message)
	case engine.EventWorkflowCompleted:
		a.status = models.RunCompleted
		a.logs.Add(at, LogLevelInfo, "", "workflow completed")
	}
	a.footer.SetCounts(a.tasks.Counts())
	return tea.Batch(cmd, a.bar.SetPercent(a.tasks.Progress()))
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return ""
	}
	var b strings.Builder

	title := a.opts.Title
	if title == "" {
		title = a.opts.WorkflowID
	}
	indicator := a.spinner.View()
	if a.done || a.paused {
		indicator = " "
	}
	elapsed := a.now.Sub(a.started).Truncate(time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	fmt.Fprintf(&b, "%s %s %s\n", indicator, a.titleStyle.Render(title),
		a.dimStyle.Render(fmt.Sprintf("[%s] %s", a.statusLabel(), elapsed)))
	fmt.Fprintf(&b, "%s\n\n", a.bar.View())

	b.WriteString(a.tasks.View(a.width))
	b.WriteString("\n")
	b.WriteString(a.logs.View(a.width, 8))
	b.WriteString("\n")
	b.WriteString(a.footer.View())
	b.WriteString("\n")
	return b.String()
}

func (a *App) statusLabel() string {
	if a.paused && !a.done {
		return "paused"
	}
	return string(a.status)
}

// Done reports whether the run has returned.
func (a *App) Done() bool { return a.done }

// Run starts the program and blocks until the user quits and run has
// returned. run is executed in the background and its outcome shown when
// it returns.
func Run(opts Options, run func() (*models.ExecutionResult, error)) (*models.ExecutionResult, error) {
	app := New(opts)
	p := tea.NewProgram(app)
	done := make(chan DoneMsg, 1)
	go func() {
		res, err := run()
		msg := DoneMsg{Result: res, Err: err}
		done <- msg
		p.Send(msg)
	}()
	if _, err := p.Run(); err != nil {
		return nil, fmt.Errorf("run tui: %w", err)
	}
	msg := <-done
	return msg.Result, msg.Err
}
