package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskgraph/internal/engine"
	"github.com/ShayCichocki/taskgraph/internal/logging"
	"github.com/ShayCichocki/taskgraph/internal/signals"
	"github.com/ShayCichocki/taskgraph/internal/tui"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

var (
	runName        string
	runDescription string
	runParallel    int
	runFailFast    bool
	runNoDecompose bool
	runNoInfer     bool
	runNoTUI       bool
	runResume      bool
)

var runCmd = &cobra.Command{
	Use:   "run [root-id]",
	Short: "Execute a task tree",
	Long: `Run a task tree: decompose complex leaves, analyze dependencies, then
execute the leaves in parallel in dependency order.

Pass an existing root task, or --name to create a new root task in the
session. Use 'taskgraph pause', 'resume' and 'cancel' from another terminal
to steer the run; in the dashboard press p to pause and c to cancel.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		sid, err := svc.sessionID(ctx)
		if err != nil {
			return err
		}
		req := engine.WorkflowRequest{SessionID: sid, Name: runName, Description: runDescription}
		switch {
		case len(args) == 1:
			req.RootTaskID = args[0]
		case runName == "":
			return fmt.Errorf("pass a root task ID or --name")
		}

		if runResume {
			n, err := svc.recovery.Resume(ctx, sid)
			if err != nil {
				return err
			}
			if n > 0 {
				printStatus(out, "↻", fmt.Sprintf("Reset %d interrupted tasks", n), color.FgCyan)
			}
		}

		wc := workflowConfig(cmd)
		req.Config = &wc
		run, err := svc.engine.CreateWorkflow(ctx, req)
		if err != nil {
			return err
		}
		if req.Name == "" {
			if root, err := requireTask(ctx, run.RootTaskID); err == nil {
				run.Name = root.Name
			}
		}

		watcher, err := signals.NewWatcher(svc.root, svc.log)
		if err != nil {
			return err
		}
		defer watcher.Close()
		bindCtx, stopBind := context.WithCancel(context.Background())
		defer stopBind()
		go watcher.Bind(bindCtx, run.ID, svc.engine)

		// An interrupt cancels the run; Execute then returns a cancelled result.
		finished := make(chan struct{})
		defer close(finished)
		go func() {
			select {
			case <-ctx.Done():
				if err := svc.engine.Cancel(context.Background(), run.ID); err != nil {
					svc.log.WithError(err).Debug("cancel on interrupt")
				}
			case <-finished:
			}
		}()

		execute := func() (*models.ExecutionResult, error) {
			return svc.engine.Execute(context.Background(), run.ID)
		}

		var res *models.ExecutionResult
		if runNoTUI || flagJSON {
			res, err = runPlain(out, run, execute)
		} else {
			res, err = runDashboard(run, execute)
		}
		if err != nil {
			return err
		}

		if flagJSON {
			final, _ := svc.engine.Workflow(run.ID)
			return printJSON(out, map[string]any{"workflow": final, "result": res})
		}
		printResult(out, run.ID, res)
		if res.Failed > 0 {
			return fmt.Errorf("%d tasks failed", res.Failed)
		}
		return nil
	},
}

// workflowConfig merges the run flags over the loaded config.
func workflowConfig(cmd *cobra.Command) models.WorkflowConfig {
	wc := models.WorkflowConfig{
		MaxParallel:   svc.cfg.Executor.MaxParallel,
		AutoDecompose: svc.cfg.Workflow.AutoDecompose && !runNoDecompose,
		AutoInfer:     svc.cfg.Analysis.AutoInfer && !runNoInfer,
		FailFast:      svc.cfg.Workflow.FailFast,
	}
	if cmd.Flags().Changed("parallel") {
		wc.MaxParallel = runParallel
	}
	if cmd.Flags().Changed("fail-fast") {
		wc.FailFast = runFailFast
	}
	return wc
}

func runDashboard(run *models.WorkflowRun, execute func() (*models.ExecutionResult, error)) (*models.ExecutionResult, error) {
	// Log lines on stderr would tear the dashboard.
	if svc.cfg.Log.File == "" && svc.log.GetLevel() > logrus.WarnLevel {
		svc.log.SetLevel(logrus.WarnLevel)
	}
	title := run.Name
	if title == "" {
		title = run.RootTaskID
	}
	return tui.Run(tui.Options{
		WorkflowID:  run.ID,
		Title:       title,
		Events:      svc.engine.Events(),
		Controller:  svc.engine,
		Names:       taskName,
		RefreshRate: svc.cfg.TUI.RefreshRate,
	}, func() (*models.ExecutionResult, error) {
		res, err := execute()
		if cerr := svc.closeEngine(); cerr != nil {
			svc.log.WithError(cerr).Debug("close engine")
		}
		return res, err
	})
}

func runPlain(out io.Writer, run *models.WorkflowRun, execute func() (*models.ExecutionResult, error)) (*models.ExecutionResult, error) {
	log := logging.Component(svc.log, "run")
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range svc.engine.Events() {
			if ev.WorkflowID != "" && ev.WorkflowID != run.ID {
				continue
			}
			if flagJSON {
				continue
			}
			printEvent(out, ev)
		}
	}()

	log.WithField("workflow_id", run.ID).Info("executing workflow")
	res, err := execute()
	if cerr := svc.closeEngine(); cerr != nil {
		log.WithError(cerr).Debug("close engine")
	}
	wg.Wait()
	return res, err
}

func taskName(id string) string {
	t, err := svc.db.GetTask(context.Background(), id)
	if err != nil || t == nil {
		return ""
	}
	return t.Name
}

func printEvent(out io.Writer, ev engine.Event) {
	switch ev.Type {
	case engine.EventWorkflowStarted:
		printStatus(out, "▶", "Workflow started", color.FgCyan)
	case engine.EventTaskStarted:
		printStatus(out, "●", "Started "+taskName(ev.TaskID), color.FgCyan)
	case engine.EventTaskCompleted:
		printStatus(out, "✓", "Completed "+taskName(ev.TaskID), color.FgGreen)
	case engine.EventTaskFailed:
		msg := "Failed " + taskName(ev.TaskID)
		if ev.Error != nil {
			msg += ": " + ev.Error.Error()
		}
		printStatus(out, "✗", msg, color.FgRed)
	case engine.EventTaskCancelled:
		printStatus(out, "⊘", "Cancelled "+taskName(ev.TaskID), color.FgYellow)
	case engine.EventTaskCreated:
		if ev.ParentID != "" {
			printStatus(out, "+", "Subtask "+taskName(ev.TaskID), color.FgWhite)
		}
	case engine.EventWorkflowCancelled:
		printStatus(out, "⊘", "Workflow cancelled", color.FgYellow)
	case engine.EventWorkflowFailed:
		if ev.Message != engine.CancelledMessage {
			msg := "Workflow failed"
			if ev.Error != nil {
				msg += ": " + ev.Error.Error()
			}
			printStatus(out, "✗", msg, color.FgRed)
		}
	}
}

func printResult(out io.Writer, workflowID string, res *models.ExecutionResult) {
	fmt.Fprintln(out)
	c := color.FgGreen
	switch {
	case res.Status == string(models.RunCancelled):
		c = color.FgYellow
	case res.Failed > 0:
		c = color.FgRed
	}
	printStatus(out, "■", fmt.Sprintf("Workflow %s %s: %d/%d completed, %d failed",
		workflowID, res.Status, res.Completed, res.TotalTasks, res.Failed), c)
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runName, "name", "", "Create a new root task with this name")
	f.StringVarP(&runDescription, "description", "d", "", "Description for the new root task")
	f.IntVarP(&runParallel, "parallel", "j", 0, "Maximum tasks to run at once (default from config)")
	f.BoolVar(&runFailFast, "fail-fast", false, "Stop at the first failed task")
	f.BoolVar(&runNoDecompose, "no-decompose", false, "Do not decompose complex leaves")
	f.BoolVar(&runNoInfer, "no-infer", false, "Only use declared dependencies")
	f.BoolVar(&runNoTUI, "no-tui", false, "Print progress lines instead of the dashboard")
	f.BoolVar(&runResume, "resume", false, "Reset tasks left in progress by an interrupted run first")
}
