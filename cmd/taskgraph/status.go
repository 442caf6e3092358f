package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskgraph/internal/analysis"
	"github.com/ShayCichocki/taskgraph/internal/progress"
)

var statusCmd = &cobra.Command{
	Use:   "status [root-id]",
	Short: "Show progress and a completion estimate",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		interrupted, err := svc.recovery.CheckForInterrupted(ctx)
		if err != nil {
			return err
		}

		sid, err := svc.sessionID(ctx)
		if err != nil {
			return err
		}
		root := ""
		if len(args) == 1 {
			root = args[0]
		}

		summary, err := svc.tracker.Summary(ctx, sid, root)
		if errors.Is(err, analysis.ErrTaskTreeNotFound) {
			summary, err = &progress.Summary{}, nil
		}
		if err != nil {
			return err
		}
		var prediction *progress.Prediction
		if summary.Total > 0 {
			if prediction, err = svc.tracker.Predict(ctx, sid, root); err != nil {
				return err
			}
		}

		if flagJSON {
			return printJSON(out, map[string]any{
				"session_id":  sid,
				"summary":     summary,
				"prediction":  prediction,
				"interrupted": interrupted,
			})
		}

		if interrupted != nil {
			printStatus(out, "⚠", fmt.Sprintf("Session %s was interrupted with %d tasks in progress (last activity %s)",
				interrupted.SessionID, len(interrupted.RunningTasks), interrupted.LastActivity.Format(time.RFC822)), color.FgYellow)
			fmt.Fprintln(out, "  Run 'taskgraph run --resume' to reset them and continue.")
			fmt.Fprintln(out)
		}

		color.New(color.Bold).Fprintf(out, "Session %s\n", sid)
		if summary.Total == 0 {
			fmt.Fprintln(out, "No tasks.")
			return nil
		}
		fmt.Fprintf(out, "  %d tasks, %.0f%% complete\n", summary.Total, summary.Progress*100)
		printStatus(out, "✓", fmt.Sprintf("%d completed", summary.Completed), color.FgGreen)
		printStatus(out, "●", fmt.Sprintf("%d in progress", summary.InProgress), color.FgCyan)
		printStatus(out, "○", fmt.Sprintf("%d pending", summary.Pending), color.FgWhite)
		if summary.Blocked > 0 {
			printStatus(out, "◌", fmt.Sprintf("%d blocked", summary.Blocked), color.FgYellow)
		}
		if summary.Failed > 0 {
			printStatus(out, "✗", fmt.Sprintf("%d failed", summary.Failed), color.FgRed)
		}
		if summary.Cancelled > 0 {
			printStatus(out, "⊘", fmt.Sprintf("%d cancelled", summary.Cancelled), color.FgYellow)
		}

		if prediction != nil && prediction.RemainingTasks > 0 {
			basis := "default estimate"
			if prediction.Observed > 0 {
				basis = fmt.Sprintf("from %d finished tasks", prediction.Observed)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  %d leaf tasks remaining, about %s each (%s)\n",
				prediction.RemainingTasks, prediction.AverageTaskTime.Round(time.Second), basis)
			fmt.Fprintf(out, "  Estimated completion: %s (in %s)\n",
				prediction.EstimatedCompletion.Format("2006-01-02 15:04"), prediction.EstimatedRemaining.Round(time.Second))
		}
		return nil
	},
}
