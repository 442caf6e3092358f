// Package importer loads task trees described in YAML into the task store.
//
// A document looks like:
//
//	session: billing
//	tasks:
//	  - key: schema
//	    name: Design schema
//	    priority: 8
//	  - name: Build API
//	    depends_on: [schema]
//	    children:
//	      - name: Handlers
//	      - name: Tests
//	        depends_on: [Handlers]
//
// Keys are local to the document and default to the task name. depends_on
// may reference any key in the document, including later ones.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/taskgraph/internal/exec"
	"github.com/ShayCichocki/taskgraph/internal/logging"
	"github.com/ShayCichocki/taskgraph/internal/state"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

var (
	// ErrInvalidDocument is returned for documents that cannot be imported.
	ErrInvalidDocument = errors.New("invalid task document")
)

// Store is the persistence the importer writes to.
type Store interface {
	CreateTask(ctx context.Context, t *models.Task) error
}

// Document is the top-level YAML structure.
type Document struct {
	Session string     `yaml:"session"`
	Tasks   []TaskSpec `yaml:"tasks"`
}

// TaskSpec is one task in a document.
type TaskSpec struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Priority    int      `yaml:"priority"`
	DependsOn   []string `yaml:"depends_on"`
	Tags        []string `yaml:"tags"`
	// Command, when set, is run by the shell instead of the default stepper.
	Command  string         `yaml:"command"`
	Metadata map[string]any `yaml:"metadata"`
	Children []TaskSpec     `yaml:"children"`
}

func (s *TaskSpec) key() string {
	if s.Key != "" {
		return s.Key
	}
	return s.Name
}

// Result describes what an import created.
type Result struct {
	// Tasks in creation order; parents precede their children.
	Tasks []*models.Task
	// IDs maps document keys to task IDs.
	IDs map[string]string
	// Roots are the IDs of the top-level tasks.
	Roots []string
}

// Importer writes documents into a store.
type Importer struct {
	store Store
	log   logrus.FieldLogger
}

// New creates an Importer.
func New(store Store, log logrus.FieldLogger) *Importer {
	return &Importer{store: store, log: logging.Component(logging.OrNop(log), "importer")}
}

// Parse decodes and validates a document.
func Parse(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidDocument)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if _, err := assignIDs(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ParseFile reads and validates a document from path.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open task document: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// assignIDs checks names, keys and references, and allocates a task ID per key.
func assignIDs(doc *Document) (map[string]string, error) {
	if len(doc.Tasks) == 0 {
		return nil, fmt.Errorf("%w: no tasks", ErrInvalidDocument)
	}
	ids := make(map[string]string)
	var walk func(specs []TaskSpec, sub bool, path string) error
	walk = func(specs []TaskSpec, sub bool, path string) error {
		for i := range specs {
			s := &specs[i]
			at := fmt.Sprintf("%s[%d]", path, i)
			if strings.TrimSpace(s.Name) == "" {
				return fmt.Errorf("%w: %s has no name", ErrInvalidDocument, at)
			}
			if _, dup := ids[s.key()]; dup {
				return fmt.Errorf("%w: duplicate key %q at %s", ErrInvalidDocument, s.key(), at)
			}
			ids[s.key()] = state.NewTaskID(sub)
			if err := walk(s.Children, true, at+".children"); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(doc.Tasks, false, "tasks"); err != nil {
		return nil, err
	}

	var check func(specs []TaskSpec) error
	check = func(specs []TaskSpec) error {
		for _, s := range specs {
			for _, dep := range s.DependsOn {
				if _, ok := ids[dep]; !ok {
					return fmt.Errorf("%w: %q depends on unknown key %q", ErrInvalidDocument, s.key(), dep)
				}
				if dep == s.key() {
					return fmt.Errorf("%w: %q depends on itself", ErrInvalidDocument, dep)
				}
			}
			if err := check(s.Children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := check(doc.Tasks); err != nil {
		return nil, err
	}
	return ids, nil
}

// Import creates every task of doc in sessionID.
func (im *Importer) Import(ctx context.Context, sessionID string, doc *Document) (*Result, error) {
	ids, err := assignIDs(doc)
	if err != nil {
		return nil, err
	}
	res := &Result{IDs: ids}

	var create func(specs []TaskSpec, parentID string) error
	create = func(specs []TaskSpec, parentID string) error {
		for _, s := range specs {
			task := &models.Task{
				ID:          ids[s.key()],
				SessionID:   sessionID,
				ParentID:    parentID,
				Name:        s.Name,
				Description: s.Description,
				Priority:    s.Priority,
				Tags:        s.Tags,
				Metadata:    s.Metadata,
			}
			if s.Command != "" {
				if task.Metadata == nil {
					task.Metadata = map[string]any{}
				}
				task.Metadata[exec.MetadataKey] = s.Command
			}
			for _, dep := range s.DependsOn {
				task.Dependencies = append(task.Dependencies, ids[dep])
			}
			if err := im.store.CreateTask(ctx, task); err != nil {
				return fmt.Errorf("import %q: %w", s.key(), err)
			}
			res.Tasks = append(res.Tasks, task)
			if parentID == "" {
				res.Roots = append(res.Roots, task.ID)
			}
			if err := create(s.Children, task.ID); err != nil {
				return err
			}
		}
		return nil
	}
	if err := create(doc.Tasks, ""); err != nil {
		return res, err
	}
	im.log.WithFields(logrus.Fields{
		"session": sessionID,
		"tasks":   len(res.Tasks),
		"roots":   len(res.Roots),
	}).Info("imported task document")
	return res, nil
}
