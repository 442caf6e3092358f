package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// apiKeyEnv lists the variables checked for a key, in order.
var apiKeyEnv = []string{EnvPrefix + "_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"}

// ResolveAPIKey returns the Anthropic API key for the Claude decomposer and
// where it came from. The environment wins over the config file, and an
// unexpanded ${VAR} reference counts as unset.
func ResolveAPIKey(cfg *Config) (string, KeySource, error) {
	for _, name := range apiKeyEnv {
		if key := os.Getenv(name); key != "" {
			return key, KeySourceEnv, nil
		}
	}
	if cfg != nil && cfg.Anthropic.APIKey != "" {
		key := os.ExpandEnv(cfg.Anthropic.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, KeySourceConfig, nil
		}
	}
	return "", KeySourceNone, ErrNoAPIKey
}

// ValidateAPIKey checks the key format without contacting the API.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}
	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	}
	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}
	return nil
}

// MaskAPIKey returns the key with all but its prefix and last four characters hidden.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
