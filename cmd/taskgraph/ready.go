package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var readyCmd = &cobra.Command{
	Use:   "ready [root-id]",
	Short: "List pending leaf tasks whose dependencies are done",
	Args:  cobra.MaximumNArgs(1),
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
		ready, err := svc.engine.ParallelReadyTasks(ctx, sid, root)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if flagJSON {
			return printJSON(out, ready)
		}
		if len(ready) == 0 {
			fmt.Fprintln(out, "No tasks are ready.")
			return nil
		}
		for _, t := range ready {
			printStatus(out, "○", fmt.Sprintf("%s  %s  priority %d", t.Name, color.HiBlackString(t.ID), t.Priority), color.FgWhite)
		}
		return nil
	},
}
