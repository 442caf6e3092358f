// Package logging builds the logrus loggers shared by taskgraph components.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// EnvLevel overrides the configured level when set.
const EnvLevel = "TASKGRAPH_LOG_LEVEL"

// Options controls logger construction.
type Options struct {
	// Level is a logrus level name (debug, info, warn, error). Empty means info.
	Level string
	// File, if set, receives log output in append mode instead of stderr.
	File string
}

// New creates a logger from opts. The returned close func releases the log
// file, if one was opened, and is always safe to call.
func New(opts Options) (*logrus.Logger, func() error, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level := opts.Level
	if env := os.Getenv(EnvLevel); env != "" {
		level = env
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	logger.SetLevel(lvl)

	noop := func() error { return nil }
	if opts.File == "" {
		logger.SetOutput(os.Stderr)
		return logger, noop, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger.SetOutput(f)
	return logger, f.Close, nil
}

// ParseLevel accepts logrus level names in any case. Empty means info.
func ParseLevel(level string) (logrus.Level, error) {
	if level == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

// Nop returns a logger that discards everything.
func Nop() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return Nop()
	}
	return l
}

// Component returns l tagged with a component field.
func Component(l logrus.FieldLogger, name string) logrus.FieldLogger {
	return OrNop(l).WithField("component", name)
}
