package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// skipServices marks commands that run without opening the store.
const skipServices = "skip-services"

var (
	flagConfig   string
	flagDB       string
	flagLogLevel string
	flagSession  string
	flagJSON     bool
)

// svc is built once per invocation by the root command's pre-run hook.
var svc *services

var rootCmd = &cobra.Command{
	Use:   "taskgraph",
	Short: "Hierarchical task dependency scheduler",
	Long: `taskgraph keeps task hierarchies in a local SQLite store, works out the
dependencies between them, and runs the leaves in parallel in dependency order.

Typical flow:
  taskgraph session create billing
  taskgraph import tasks.yaml
  taskgraph analyze
  taskgraph run <root-task-id>

While a run is in progress, 'taskgraph pause', 'resume' and 'cancel' steer it
from another terminal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[skipServices] == "true" {
			return nil
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := newServices(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		svc = s
		return nil
	},
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if svc != nil {
		if cerr := svc.Close(); cerr != nil && err == nil {
			err = cerr
		}
		svc = nil
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		return 1
	}
	return 0
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Config file (default: user config plus .taskgraph.yaml)")
	pf.StringVar(&flagDB, "db", "", "SQLite database path (overrides store.path)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVarP(&flagSession, "session", "s", "", "Session ID (default: the most recent active session)")
	pf.BoolVar(&flagJSON, "json", false, "Print machine-readable JSON")

	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(readyCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
