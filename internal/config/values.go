package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// field binds a dotted key to a Config field.
type field struct {
	key string
	get func(*Config) any
	set func(*Config, string) error
}

func stringField(key string, p func(*Config) *string) field {
	return field{
		key: key,
		get: func(c *Config) any { return *p(c) },
		set: func(c *Config, s string) error { *p(c) = s; return nil },
	}
}

func boolField(key string, p func(*Config) *bool) field {
	return field{
		key: key,
		get: func(c *Config) any { return *p(c) },
		set: func(c *Config, s string) error {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			*p(c) = b
			return nil
		},
	}
}

func intField(key string, p func(*Config) *int) field {
	return field{
		key: key,
		get: func(c *Config) any { return *p(c) },
		set: func(c *Config, s string) error {
			n, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			*p(c) = n
			return nil
		},
	}
}

func floatField(key string, p func(*Config) *float64) field {
	return field{
		key: key,
		get: func(c *Config) any { return *p(c) },
		set: func(c *Config, s string) error {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			*p(c) = f
			return nil
		},
	}
}

// Durations are stored as strings so the YAML stays readable.
func durationField(key string, p func(*Config) *time.Duration) field {
	return field{
		key: key,
		get: func(c *Config) any { return p(c).String() },
		set: func(c *Config, s string) error {
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("invalid duration for %s: %w", key, err)
			}
			*p(c) = d
			return nil
		},
	}
}

var fields = []field{
	stringField("store.driver", func(c *Config) *string { return &c.Store.Driver }),
	stringField("store.path", func(c *Config) *string { return &c.Store.Path }),
	intField("executor.max_parallel", func(c *Config) *int { return &c.Executor.MaxParallel }),
	durationField("executor.dependency_timeout", func(c *Config) *time.Duration { return &c.Executor.DependencyTimeout }),
	durationField("executor.step_delay", func(c *Config) *time.Duration { return &c.Executor.StepDelay }),
	boolField("analysis.auto_infer", func(c *Config) *bool { return &c.Analysis.AutoInfer }),
	boolField("workflow.auto_decompose", func(c *Config) *bool { return &c.Workflow.AutoDecompose }),
	boolField("workflow.fail_fast", func(c *Config) *bool { return &c.Workflow.FailFast }),
	stringField("log.level", func(c *Config) *string { return &c.Log.Level }),
	stringField("log.file", func(c *Config) *string { return &c.Log.File }),
	stringField("decompose.provider", func(c *Config) *string { return &c.Decompose.Provider }),
	floatField("decompose.complexity_threshold", func(c *Config) *float64 { return &c.Decompose.ComplexityThreshold }),
	stringField("anthropic.api_key", func(c *Config) *string { return &c.Anthropic.APIKey }),
	stringField("anthropic.model", func(c *Config) *string { return &c.Anthropic.Model }),
	boolField("anthropic.use_bedrock", func(c *Config) *bool { return &c.Anthropic.UseBedrock }),
	stringField("anthropic.aws_region", func(c *Config) *string { return &c.Anthropic.AWSRegion }),
	stringField("anthropic.aws_profile", func(c *Config) *string { return &c.Anthropic.AWSProfile }),
	durationField("tui.refresh_rate", func(c *Config) *time.Duration { return &c.TUI.RefreshRate }),
}

// Keys lists every configuration key in display order.
func Keys() []string {
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.key
	}
	return keys
}

func lookup(key string) (field, error) {
	key = strings.ToLower(key)
	for _, f := range fields {
		if f.key == key {
			return f, nil
		}
	}
	return field{}, fmt.Errorf("unknown configuration key: %s", key)
}

// Value returns the value stored under a dotted key.
func (c *Config) Value(key string) (any, error) {
	f, err := lookup(key)
	if err != nil {
		return nil, err
	}
	return f.get(c), nil
}

// Display returns the value under key formatted for output, with the API key masked.
func (c *Config) Display(key string) (string, error) {
	v, err := c.Value(key)
	if err != nil {
		return "", err
	}
	if strings.ToLower(key) == "anthropic.api_key" {
		return MaskAPIKey(c.Anthropic.APIKey), nil
	}
	return fmt.Sprint(v), nil
}

// Set parses value and stores it under a dotted key.
func (c *Config) Set(key, value string) error {
	f, err := lookup(key)
	if err != nil {
		return err
	}
	return f.set(c, value)
}
