package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskgraph/internal/tui"
)

var graphCmd = &cobra.Command{
	Use:   "graph [root-id]",
	Short: "Show the dependency graph by execution level",
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
		vis, err := svc.engine.DependencyGraph(ctx, sid, root)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), vis)
		}
		fmt.Fprint(cmd.OutOrStdout(), tui.NewGraphView().Render(vis))
		return nil
	},
}
