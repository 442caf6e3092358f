package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskgraph/internal/config"
)

var configProject bool

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Show or change configuration",
	Long: `Without arguments, print every setting as loaded (files plus environment).
With a key, print that setting. With a key and a value, write the value to the
user config file, or to .taskgraph.yaml with --project.`,
	Args:        cobra.MaximumNArgs(2),
	Annotations: map[string]string{skipServices: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(args) == 2 {
			return setConfig(cmd, args[0], args[1])
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		keys := config.Keys()
		if len(args) == 1 {
			keys = []string{args[0]}
		}
		if flagJSON {
			m := make(map[string]string, len(keys))
			for _, k := range keys {
				v, err := cfg.Display(k)
				if err != nil {
					return err
				}
				m[k] = v
			}
			return printJSON(out, m)
		}
		for _, k := range keys {
			v, err := cfg.Display(k)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				fmt.Fprintln(out, v)
				continue
			}
			fmt.Fprintf(out, "%-30s %s\n", k, v)
		}
		return nil
	},
}

func setConfig(cmd *cobra.Command, key, value string) error {
	path := config.GetUserConfigPath()
	if configProject {
		path = config.GetProjectConfigPath()
		if path == "" {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			path = filepath.Join(wd, config.ProjectFile)
		}
	}
	cfg, err := config.ReadFile(path)
	if err != nil {
		return err
	}
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := config.SaveTo(cfg, path); err != nil {
		return err
	}
	shown, _ := cfg.Display(key)
	printStatus(cmd.OutOrStdout(), "✓", fmt.Sprintf("%s = %s (%s)", key, shown, path), color.FgGreen)
	return nil
}

var configPathCmd = &cobra.Command{
	Use:         "path",
	Short:       "Print the config file locations",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipServices: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "user:    %s\n", config.GetUserConfigPath())
		project := config.GetProjectConfigPath()
		if project == "" {
			project = "(none)"
		}
		fmt.Fprintf(out, "project: %s\n", project)
	},
}

func init() {
	configCmd.Flags().BoolVar(&configProject, "project", false, "Write to the project config instead of the user config")
	configCmd.AddCommand(configPathCmd)
}
