package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskgraph/internal/config"
	"github.com/ShayCichocki/taskgraph/internal/signals"
)

// signalCommand builds a command that drops a signal file for a running
// workflow. Without an ID the signal applies to every run in the project.
func signalCommand(kind signals.Kind, short string) *cobra.Command {
	return &cobra.Command{
		Use:         string(kind) + " [workflow-id]",
		Short:       short,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{skipServices: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			if err := signals.Send(config.ProjectRoot(), kind, id); err != nil {
				return err
			}
			target := "all runs"
			if id != "" {
				target = id
			}
			printStatus(cmd.OutOrStdout(), "→", fmt.Sprintf("Sent %s to %s", kind, target), color.FgCyan)
			return nil
		},
	}
}

var (
	pauseCmd  = signalCommand(signals.Pause, "Pause a running workflow")
	resumeCmd = signalCommand(signals.Resume, "Resume a paused workflow")
	cancelCmd = signalCommand(signals.Cancel, "Cancel a running workflow")
)
