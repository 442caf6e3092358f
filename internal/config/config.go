// Package config handles configuration loading and management for taskgraph.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/taskgraph/internal/logging"
)

const (
	// ProjectFile is the per-project override searched for upward from the working directory.
	ProjectFile = ".taskgraph.yaml"
	// EnvPrefix prefixes environment overrides, e.g. TASKGRAPH_EXECUTOR_MAX_PARALLEL.
	EnvPrefix = "TASKGRAPH"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for taskgraph.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Log       LogConfig       `mapstructure:"log"`
	Decompose DecomposeConfig `mapstructure:"decompose"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	TUI       TUIConfig       `mapstructure:"tui"`
}

// StoreConfig selects the SQLite driver and database file.
type StoreConfig struct {
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string `mapstructure:"driver"`
	// Path is the database file. Relative paths resolve against the project root.
	Path string `mapstructure:"path"`
}

// ExecutorConfig holds executor limits.
type ExecutorConfig struct {
	MaxParallel       int           `mapstructure:"max_parallel"`
	DependencyTimeout time.Duration `mapstructure:"dependency_timeout"`
	StepDelay         time.Duration `mapstructure:"step_delay"`
}

// AnalysisConfig holds dependency analysis settings.
type AnalysisConfig struct {
	AutoInfer bool `mapstructure:"auto_infer"`
}

// WorkflowConfig holds per-run defaults.
type WorkflowConfig struct {
	AutoDecompose bool `mapstructure:"auto_decompose"`
	FailFast      bool `mapstructure:"fail_fast"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DecomposeConfig selects the decomposer.
type DecomposeConfig struct {
	// Provider is "template" or "claude".
	Provider            string  `mapstructure:"provider"`
	ComplexityThreshold float64 `mapstructure:"complexity_threshold"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (TASKGRAPH_*, ANTHROPIC_API_KEY)
// 2. Project config (.taskgraph.yaml in current directory or parent)
// 3. User config (~/.config/taskgraph/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a single file, with defaults and
// environment overrides applied.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return decode(v)
}

// ReadFile loads a single config file over the defaults without environment
// overrides, so it can be edited and saved back. A missing file yields the
// defaults.
func ReadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", EnvPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	v.BindEnv("log.level", logging.EnvLevel)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveTo(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveTo writes the configuration to path.
func SaveTo(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	for _, k := range Keys() {
		val, _ := cfg.Value(k)
		v.Set(k, val)
	}
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// ProjectRoot returns the directory holding the project config, or the
// working directory when there is none.
func ProjectRoot() string {
	if p := findProjectConfig(); p != "" {
		return filepath.Dir(p)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()
	for _, k := range Keys() {
		val, _ := d.Value(k)
		v.SetDefault(k, val)
	}
}

// getUserConfigDir returns the XDG config directory for taskgraph.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "taskgraph")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "taskgraph")
	}
	return filepath.Join(home, ".config", "taskgraph")
}

// findProjectConfig searches for .taskgraph.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ProjectFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(".taskgraph", "state.db"),
		},
		Executor: ExecutorConfig{
			MaxParallel:       4,
			DependencyTimeout: 300 * time.Second,
			StepDelay:         100 * time.Millisecond,
		},
		Analysis: AnalysisConfig{AutoInfer: true},
		Workflow: WorkflowConfig{AutoDecompose: true},
		Log:      LogConfig{Level: "info"},
		Decompose: DecomposeConfig{
			Provider:            "template",
			ComplexityThreshold: 3.0,
		},
		TUI: TUIConfig{RefreshRate: 100 * time.Millisecond},
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch c.Store.Driver {
	case "sqlite", "sqlite3":
	default:
		bad("store.driver %q (want sqlite or sqlite3)", c.Store.Driver)
	}
	if c.Store.Path == "" {
		bad("store.path is empty")
	}
	if c.Executor.MaxParallel < 1 || c.Executor.MaxParallel > 16 {
		bad("executor.max_parallel %d (want 1-16)", c.Executor.MaxParallel)
	}
	if c.Executor.DependencyTimeout <= 0 {
		bad("executor.dependency_timeout must be positive")
	}
	if c.Executor.StepDelay < 0 {
		bad("executor.step_delay must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		bad("log.level %q", c.Log.Level)
	}
	switch c.Decompose.Provider {
	case "template", "claude":
	default:
		bad("decompose.provider %q (want template or claude)", c.Decompose.Provider)
	}
	if c.Decompose.ComplexityThreshold <= 0 {
		bad("decompose.complexity_threshold must be positive")
	}
	if c.Anthropic.UseBedrock && c.Anthropic.AWSRegion == "" && os.Getenv("AWS_REGION") == "" {
		bad("anthropic.aws_region is required with use_bedrock")
	}
	if c.TUI.RefreshRate <= 0 {
		bad("tui.refresh_rate must be positive")
	}
	return errors.Join(errs...)
}
