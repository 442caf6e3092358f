package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskgraph/internal/analysis"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
	Long: `Sessions group the task trees you work on. Commands that need a session use
--session, or the most recent active session when it is omitted.`,
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := &models.Session{Name: args[0]}
		if err := svc.db.CreateSession(cmd.Context(), s); err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), s)
		}
		printStatus(cmd.OutOrStdout(), "✓", fmt.Sprintf("Created session %s (%s)", s.Name, s.ID), color.FgGreen)
		return nil
	},
}

var sessionListStatus string

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		var status *models.SessionStatus
		if sessionListStatus != "" {
			s := models.SessionStatus(sessionListStatus)
			status = &s
		}
		sessions, err := svc.db.ListSessions(cmd.Context(), status)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if flagJSON {
			return printJSON(out, sessions)
		}
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No sessions.")
			return nil
		}
		for _, s := range sessions {
			fmt.Fprintf(out, "%s  %-10s %s  %s\n", s.ID, s.Status, s.CreatedAt.Format("2006-01-02 15:04"), s.Name)
		}
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a session and its task trees",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := svc.sessionID(ctx)
		if err != nil {
			return err
		}
		s, err := svc.db.GetSession(ctx, id)
		if err != nil {
			return err
		}
		forest, err := svc.db.GetTree(ctx, id, "")
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if flagJSON {
			return printJSON(out, map[string]any{"session": s, "tasks": forest})
		}
		fmt.Fprintf(out, "%s %s (%s)\n\n", color.New(color.Bold).Sprint(s.Name), s.ID, s.Status)
		if len(forest) == 0 {
			fmt.Fprintln(out, "No tasks.")
			return nil
		}
		printForest(out, forest)
		return nil
	},
}

var sessionCloseArchive bool

var sessionCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Mark a session completed (or archived)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := svc.sessionID(ctx)
		if err != nil {
			return err
		}
		status := models.SessionCompleted
		if sessionCloseArchive {
			status = models.SessionArchived
		}
		summary, err := svc.tracker.Summary(ctx, id, "")
		if err != nil && !errors.Is(err, analysis.ErrTaskTreeNotFound) {
			return err
		}
		if err := svc.db.UpdateSessionStatus(ctx, id, status); err != nil {
			return err
		}
		msg := fmt.Sprintf("Session %s marked %s", id, status)
		if summary != nil && summary.Completed < summary.Total {
			msg += fmt.Sprintf(" (%d of %d tasks unfinished)", summary.Total-summary.Completed, summary.Total)
		}
		printStatus(cmd.OutOrStdout(), "✓", msg, color.FgGreen)
		return nil
	},
}

var sessionRecoverClean bool

var sessionRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Reset or clean up tasks left in progress by an interrupted run",
	Long: `Find the newest active session with tasks still marked in progress after
the process running them went away. By default those tasks are reset to
pending; with --clean they are marked failed and the session is archived.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		interrupted, err := svc.recovery.CheckForInterrupted(ctx)
		if err != nil {
			return err
		}
		if interrupted == nil {
			fmt.Fprintln(out, "No interrupted sessions.")
			return nil
		}
		if sessionRecoverClean {
			if err := svc.recovery.Clean(ctx, interrupted.SessionID); err != nil {
				return err
			}
			printStatus(out, "✓", fmt.Sprintf("Marked %d tasks failed and archived session %s", len(interrupted.RunningTasks), interrupted.SessionID), color.FgGreen)
			return nil
		}
		n, err := svc.recovery.Resume(ctx, interrupted.SessionID)
		if err != nil {
			return err
		}
		printStatus(out, "✓", fmt.Sprintf("Reset %d tasks in session %s to pending", n, interrupted.SessionID), color.FgGreen)
		return nil
	},
}

func init() {
	sessionListCmd.Flags().StringVar(&sessionListStatus, "status", "", "Filter by status (active, completed, archived)")
	sessionCloseCmd.Flags().BoolVar(&sessionCloseArchive, "archive", false, "Archive instead of completing")
	sessionRecoverCmd.Flags().BoolVar(&sessionRecoverClean, "clean", false, "Fail the interrupted tasks and archive the session")

	sessionCmd.AddCommand(sessionCreateCmd, sessionListCmd, sessionShowCmd, sessionCloseCmd, sessionRecoverCmd)
}
