package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/taskgraph/internal/classify"
	"github.com/ShayCichocki/taskgraph/internal/config"
	"github.com/ShayCichocki/taskgraph/internal/decompose"
	"github.com/ShayCichocki/taskgraph/internal/engine"
	"github.com/ShayCichocki/taskgraph/internal/exec"
	"github.com/ShayCichocki/taskgraph/internal/executor"
	"github.com/ShayCichocki/taskgraph/internal/importer"
	"github.com/ShayCichocki/taskgraph/internal/logging"
	"github.com/ShayCichocki/taskgraph/internal/progress"
	"github.com/ShayCichocki/taskgraph/internal/state"
)

var errNoSession = errors.New("no active session (create one with 'taskgraph session create <name>' or pass --session)")

// services is the object graph shared by every command.
type services struct {
	cfg      *config.Config
	log      *logrus.Logger
	closeLog func() error
	root     string

	db          *state.DB
	recovery    *state.RecoveryManager
	engine      *engine.Engine
	closeEngine func() error
	tracker     *progress.Tracker
	importer    *importer.Importer
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flagConfig != "" {
		cfg, err = config.LoadFromPath(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagDB != "" {
		cfg.Store.Path = flagDB
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// storePath resolves a relative store path against the project root.
func storePath(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func newServices(ctx context.Context, cfg *config.Config) (*services, error) {
	log, closeLog, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return nil, err
	}
	s := &services{cfg: cfg, log: log, closeLog: closeLog, root: config.ProjectRoot()}

	db, err := state.OpenWithDriver(cfg.Store.Driver, storePath(s.root, cfg.Store.Path))
	if err != nil {
		s.Close()
		return nil, err
	}
	s.db = db
	db.SetLogger(logging.Component(log, "state"))
	if err := db.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	s.recovery = state.NewRecoveryManager(db)

	classifier := classify.NewKeywordClassifier()
	template := decompose.NewTemplate(db, classifier, cfg.Decompose.ComplexityThreshold, log)
	var decomposer engine.Decomposer = template
	if cfg.Decompose.Provider == "claude" {
		claude, err := s.claude(ctx, template)
		if err != nil {
			log.WithError(err).Warn("claude decomposer unavailable, using templates")
		} else {
			decomposer = claude
		}
	}

	s.engine = engine.New(db, engine.Options{
		Executor: executor.Options{
			DependencyTimeout: cfg.Executor.DependencyTimeout,
			StepDelay:         cfg.Executor.StepDelay,
			Execute:           exec.NewTaskRunner(exec.NewRunner(), s.root, log).Execute,
			Logger:            log,
		},
		Decomposer: decomposer,
		Classifier: classifier,
		Logger:     log,
	})
	s.closeEngine = sync.OnceValue(s.engine.Close)
	s.tracker = progress.NewTracker(db)
	s.importer = importer.New(db, log)
	return s, nil
}

func (s *services) claude(ctx context.Context, template *decompose.Template) (*decompose.Claude, error) {
	a := s.cfg.Anthropic
	cc := decompose.ClaudeConfig{
		Model:      a.Model,
		UseBedrock: a.UseBedrock,
		AWSRegion:  a.AWSRegion,
		AWSProfile: a.AWSProfile,
	}
	if !a.UseBedrock {
		key, source, err := config.ResolveAPIKey(s.cfg)
		if err != nil {
			return nil, err
		}
		s.log.WithField("source", source).Debug("using anthropic api key")
		cc.APIKey = key
	}
	return decompose.NewClaude(ctx, cc, s.db, template, s.log)
}

// Close releases the store and the log file.
func (s *services) Close() error {
	var errs []error
	if s.closeEngine != nil {
		errs = append(errs, s.closeEngine())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.closeLog != nil {
		errs = append(errs, s.closeLog())
	}
	return errors.Join(errs...)
}

// sessionID returns the --session flag, or the most recent active session.
func (s *services) sessionID(ctx context.Context) (string, error) {
	if flagSession != "" {
		sess, err := s.db.GetSession(ctx, flagSession)
		if err != nil {
			return "", err
		}
		if sess == nil {
			return "", fmt.Errorf("session %s: %w", flagSession, state.ErrSessionNotFound)
		}
		return sess.ID, nil
	}
	sess, err := s.db.GetActiveSession(ctx)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", errNoSession
	}
	return sess.ID, nil
}
