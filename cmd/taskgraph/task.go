package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskgraph/internal/exec"
	"github.com/ShayCichocki/taskgraph/internal/state"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var (
	taskParent      string
	taskDescription string
	taskPriority    int
	taskDeps        []string
	taskTags        []string
	taskCommand     string
	taskStatus      string
	taskProgress    float64
	taskHistory     int
)

// requireTask loads a task or fails with state.ErrTaskNotFound.
func requireTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := svc.db.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("task %s: %w", id, state.ErrTaskNotFound)
	}
	return t, nil
}

var taskAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a task, or a subtask with --parent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		t := &models.Task{
			Name:         args[0],
			Description:  taskDescription,
			Priority:     taskPriority,
			Dependencies: taskDeps,
			Tags:         taskTags,
			ParentID:     taskParent,
		}
		if taskCommand != "" {
			t.Metadata = map[string]any{exec.MetadataKey: taskCommand}
		}
		if taskParent == "" {
			sid, err := svc.sessionID(ctx)
			if err != nil {
				return err
			}
			t.SessionID = sid
		}
		if err := svc.db.CreateTask(ctx, t); err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), t)
		}
		printStatus(cmd.OutOrStdout(), "✓", fmt.Sprintf("Created %s %s", t.ID, t.Name), color.FgGreen)
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list [root-id]",
	Short: "List the session's tasks as trees",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sid, err := svc.sessionID(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if taskStatus != "" {
			st := models.TaskStatus(taskStatus)
			if !st.Valid() {
				return fmt.Errorf("invalid status %q", taskStatus)
			}
			tasks, err := svc.db.ListByStatus(ctx, sid, st)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(out, tasks)
			}
			for _, t := range tasks {
				printStatus(out, statusSymbol(t.Status), t.Name+"  "+color.HiBlackString(t.ID), statusColor(t.Status))
			}
			return nil
		}

		root := ""
		if len(args) == 1 {
			root = args[0]
		}
		forest, err := svc.db.GetTree(ctx, sid, root)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(out, forest)
		}
		if len(forest) == 0 {
			fmt.Fprintln(out, "No tasks.")
			return nil
		}
		printForest(out, forest)
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task, its subtasks and recent progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		t, err := requireTask(ctx, args[0])
		if err != nil {
			return err
		}
		subtasks, err := svc.db.GetSubtasks(ctx, t.ID)
		if err != nil {
			return err
		}
		history, err := svc.db.GetProgressHistory(ctx, t.ID, taskHistory)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if flagJSON {
			return printJSON(out, map[string]any{"task": t, "subtasks": subtasks, "history": history})
		}

		fmt.Fprintf(out, "%s  %s\n", color.New(color.Bold).Sprint(t.Name), t.ID)
		printStatus(out, statusSymbol(t.Status), fmt.Sprintf("%s  %.0f%%  priority %d", t.Status, t.Progress*100, t.Priority), statusColor(t.Status))
		if t.Description != "" {
			fmt.Fprintf(out, "\n%s\n", t.Description)
		}
		if len(t.Dependencies) > 0 {
			fmt.Fprintf(out, "\nDepends on: %s\n", strings.Join(t.Dependencies, ", "))
		}
		if c, ok := exec.Command(t); ok {
			fmt.Fprintf(out, "Command: %s\n", c)
		}
		if len(t.Tags) > 0 {
			fmt.Fprintf(out, "Tags: %s\n", strings.Join(t.Tags, ", "))
		}
		if len(subtasks) > 0 {
			fmt.Fprintln(out, "\nSubtasks:")
			for _, s := range subtasks {
				printStatus(out, "  "+statusSymbol(s.Status), s.Name+"  "+color.HiBlackString(s.ID), statusColor(s.Status))
			}
		}
		if len(history) > 0 {
			fmt.Fprintln(out, "\nProgress history:")
			for _, h := range history {
				fmt.Fprintf(out, "  %s  %-11s %3.0f%%\n", h.RecordedAt.Format("2006-01-02 15:04:05"), h.Status, h.Progress*100)
			}
		}
		return nil
	},
}

var taskRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a task and its subtasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if _, err := requireTask(ctx, args[0]); err != nil {
			return err
		}
		if err := svc.db.DeleteTask(ctx, args[0]); err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), "✓", "Deleted "+args[0], color.FgGreen)
		return nil
	},
}

var taskSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Record progress or a status for a task",
	Long: `Record progress (0-1) and optionally a status for a task. Parent progress
and status are recomputed from their children.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		t, err := requireTask(ctx, args[0])
		if err != nil {
			return err
		}
		var status *models.TaskStatus
		if taskStatus != "" {
			st := models.TaskStatus(taskStatus)
			if !st.Valid() {
				return fmt.Errorf("invalid status %q", taskStatus)
			}
			status = &st
		}
		p := t.Progress
		if cmd.Flags().Changed("progress") {
			p = taskProgress
		} else if status != nil && *status == models.TaskStatusCompleted {
			p = 1
		}
		if err := svc.db.UpdateProgress(ctx, t.ID, p, status); err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), "✓", fmt.Sprintf("Updated %s", t.ID), color.FgGreen)
		return nil
	},
}

var taskDepCmd = &cobra.Command{
	Use:   "dep",
	Short: "Edit task dependencies",
}

var taskDepAddCmd = &cobra.Command{
	Use:   "add <task-id> <depends-on-id>",
	Short: "Make a task wait for another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if _, err := requireTask(ctx, args[1]); err != nil {
			return err
		}
		added, err := svc.db.AddDependency(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		if !added {
			printStatus(cmd.OutOrStdout(), "⚠", "Dependency not added (already present or self-dependency)", color.FgYellow)
			return nil
		}
		printStatus(cmd.OutOrStdout(), "✓", fmt.Sprintf("%s now depends on %s", args[0], args[1]), color.FgGreen)
		return nil
	},
}

var taskDepRemoveCmd = &cobra.Command{
	Use:   "rm <task-id> <depends-on-id>",
	Short: "Remove a dependency",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		removed, err := svc.db.RemoveDependency(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if !removed {
			printStatus(cmd.OutOrStdout(), "⚠", "No such dependency", color.FgYellow)
			return nil
		}
		printStatus(cmd.OutOrStdout(), "✓", "Dependency removed", color.FgGreen)
		return nil
	},
}

func init() {
	f := taskAddCmd.Flags()
	f.StringVar(&taskParent, "parent", "", "Parent task ID")
	f.StringVarP(&taskDescription, "description", "d", "", "Task description")
	f.IntVarP(&taskPriority, "priority", "p", 0, "Priority (higher runs first)")
	f.StringSliceVar(&taskDeps, "depends-on", nil, "Task IDs this task waits for")
	f.StringSliceVar(&taskTags, "tag", nil, "Tags")
	f.StringVar(&taskCommand, "command", "", "Shell command to run for this task")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Only list tasks with this status")
	taskShowCmd.Flags().IntVar(&taskHistory, "history", 10, "Number of progress records to show")
	taskSetCmd.Flags().StringVar(&taskStatus, "status", "", "New status")
	taskSetCmd.Flags().Float64Var(&taskProgress, "progress", 0, "Progress between 0 and 1")

	taskDepCmd.AddCommand(taskDepAddCmd, taskDepRemoveCmd)
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskRemoveCmd, taskSetCmd, taskDepCmd)
}
