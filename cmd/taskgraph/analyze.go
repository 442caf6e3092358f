package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskgraph/internal/analysis"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

var analyzeNoInfer bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze [root-id]",
	Short: "Build the dependency graph, resolve cycles and plan execution",
	Long: `Analyze a session (or one task tree) and print the execution order, the
critical path and the groups of tasks that can run in parallel. Cycles are
broken by dropping dependencies from the lower priority task; the result is
saved on the root task's metadata.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sid, err := svc.sessionID(ctx)
		if err != nil {
			return err
		}
		root := ""
		if len(args) == 1 {
			root = args[0]
		}
		infer := svc.cfg.Analysis.AutoInfer && !analyzeNoInfer
		res, err := svc.engine.Analyzer().Analyze(ctx, sid, root, infer)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if flagJSON {
			return printJSON(out, res)
		}

		tasks, err := svc.db.ListTasks(ctx, sid)
		if err != nil {
			return err
		}
		n := names(tasks)

		bold := color.New(color.Bold)
		bold.Fprintf(out, "Analyzed %d tasks\n\n", res.TaskCount)

		if len(res.Cycles) > 0 {
			printStatus(out, "⚠", fmt.Sprintf("%d cycles found", len(res.Cycles)), color.FgYellow)
			for _, c := range res.Cycles {
				fmt.Fprintf(out, "    %s\n", labels(n, c))
			}
			printResolution(out, res.Resolution, n)
			fmt.Fprintln(out)
		}

		bold.Fprintln(out, "Execution order")
		if !res.OrderValid {
			printStatus(out, "⚠", "graph still has cycles; order is breadth-first, not topological", color.FgYellow)
		}
		for i, id := range res.ExecutionOrder {
			fmt.Fprintf(out, "  %2d. %s\n", i+1, label(n, id))
		}

		fmt.Fprintln(out)
		bold.Fprintln(out, "Critical path")
		if len(res.CriticalPath.Tasks) == 0 {
			fmt.Fprintln(out, "  (none)")
		} else {
			fmt.Fprintf(out, "  %s\n", labels(n, res.CriticalPath.Tasks))
			fmt.Fprintf(out, "  %d steps, about %d min\n", res.CriticalPath.Length, res.CriticalPath.EstimatedDuration)
		}

		fmt.Fprintln(out)
		bold.Fprintln(out, "Parallel groups")
		for i, g := range res.ParallelizableGroups {
			fmt.Fprintf(out, "  %d: ", i+1)
			for j, id := range g {
				if j > 0 {
					fmt.Fprint(out, ", ")
				}
				fmt.Fprint(out, label(n, id))
			}
			fmt.Fprintln(out)
		}

		if err := analysis.Unresolved(res.Resolution); err != nil {
			fmt.Fprintln(out)
			printStatus(out, "⚠", err.Error(), color.FgYellow)
		}
		return nil
	},
}

func printResolution(out io.Writer, r *models.ResolutionReport, n map[string]string) {
	if r == nil {
		return
	}
	for _, res := range r.Resolutions {
		if res.Success {
			printStatus(out, "  ✓", fmt.Sprintf("resolved by %s: %s", res.Strategy, labels(n, res.Cycle)), color.FgGreen)
			continue
		}
		msg := "unresolved: " + labels(n, res.Cycle)
		if res.Error != "" {
			msg += " (" + res.Error + ")"
		}
		printStatus(out, "  ✗", msg, color.FgRed)
	}
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeNoInfer, "no-infer", false, "Only use declared dependencies")
}
