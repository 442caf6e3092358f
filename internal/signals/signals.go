// Package signals lets separate processes steer a running workflow by
// dropping files into .taskgraph/signals.
package signals

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/taskgraph/internal/logging"
)

// Kind names a signal file.
type Kind string

const (
	Pause  Kind = "pause"
	Resume Kind = "resume"
	Cancel Kind = "cancel"
)

// Kinds lists every signal the watcher understands.
var Kinds = []Kind{Pause, Resume, Cancel}

// ErrUnknownKind is returned when sending an unrecognised signal.
var ErrUnknownKind = errors.New("unknown signal")

func (k Kind) valid() bool {
	for _, v := range Kinds {
		if k == v {
			return true
		}
	}
	return false
}

// Signal is one delivered request.
type Signal struct {
	Kind Kind
	// WorkflowID targets one run. Empty means every run in this project.
	WorkflowID string
	At         time.Time
}

// Matches reports whether the signal applies to workflowID.
func (s Signal) Matches(workflowID string) bool {
	return s.WorkflowID == "" || s.WorkflowID == workflowID
}

// Dir returns the signal directory under a project root.
func Dir(root string) string {
	return filepath.Join(root, ".taskgraph", "signals")
}

// Send writes a signal file for workflowID, which may be empty.
func Send(root string, kind Kind, workflowID string) error {
	if !kind.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	dir := Dir(root)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signal dir: %w", err)
	}
	body := workflowID + "\n" + time.Now().Format(time.RFC3339) + "\n"
	// Write then rename so the watcher never sees a partial file.
	tmp := filepath.Join(dir, "."+string(kind)+".tmp")
	if err := os.WriteFile(tmp, []byte(body), 0644); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, string(kind))); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

// Clear removes every signal file.
func Clear(root string) {
	for _, k := range Kinds {
		os.Remove(filepath.Join(Dir(root), string(k)))
	}
}

// Watcher delivers signal files as they appear and removes them once read.
type Watcher struct {
	dir     string
	log     logrus.FieldLogger
	watcher *fsnotify.Watcher
	out     chan Signal
	done    chan struct{}

	closeOnce sync.Once
}

// NewWatcher starts watching the signal directory under root. Signal files
// left over from an earlier run are discarded.
func NewWatcher(root string, log logrus.FieldLogger) (*Watcher, error) {
	dir := Dir(root)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create signal dir: %w", err)
	}
	Clear(root)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		dir:     dir,
		log:     logging.Component(logging.OrNop(log), "signals"),
		watcher: fw,
		out:     make(chan Signal, 16),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// C returns the channel signals are delivered on. It is closed by Close.
func (w *Watcher) C() <-chan Signal { return w.out }

func (w *Watcher) loop() {
	defer close(w.out)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			kind := Kind(filepath.Base(ev.Name))
			if !kind.valid() {
				continue
			}
			sig, ok := w.consume(kind)
			if !ok {
				continue
			}
			select {
			case w.out <- sig:
			case <-w.done:
				return
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("signal watcher error")
		}
	}
}

// consume reads and removes a signal file. A Create followed by a Write for
// the same file yields one signal, since the file is gone by the second event.
// Files written by hand may still be empty on Create; those wait for the Write.
func (w *Watcher) consume(kind Kind) (Signal, bool) {
	path := filepath.Join(w.dir, string(kind))
	data, err := os.ReadFile(path)
	if err != nil {
		return Signal{}, false
	}
	if len(data) == 0 {
		return Signal{}, false
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.log.WithError(err).Warnf("remove %s signal", kind)
	}

	sig := Signal{Kind: kind, At: time.Now()}
	lines := strings.SplitN(string(data), "\n", 3)
	sig.WorkflowID = strings.TrimSpace(lines[0])
	if len(lines) > 1 {
		if at, err := time.Parse(time.RFC3339, strings.TrimSpace(lines[1])); err == nil {
			sig.At = at
		}
	}
	w.log.WithFields(logrus.Fields{"signal": kind, "workflow": sig.WorkflowID}).Info("signal received")
	return sig, true
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

// Controller is the run control a watcher drives.
type Controller interface {
	Pause(workflowID string) (bool, error)
	Resume(workflowID string) (bool, error)
	Cancel(ctx context.Context, workflowID string) error
}

// Bind applies signals for workflowID to ctrl until ctx ends or the watcher
// is closed. Signals for other workflows are ignored.
func (w *Watcher) Bind(ctx context.Context, workflowID string, ctrl Controller) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-w.out:
			if !ok {
				return
			}
			if !sig.Matches(workflowID) {
				w.log.Debugf("ignoring %s for workflow %s", sig.Kind, sig.WorkflowID)
				continue
			}
			w.apply(ctx, workflowID, sig, ctrl)
		}
	}
}

func (w *Watcher) apply(ctx context.Context, workflowID string, sig Signal, ctrl Controller) {
	log := w.log.WithFields(logrus.Fields{"signal": sig.Kind, "workflow": workflowID})
	var (
		changed bool
		err     error
	)
	switch sig.Kind {
	case Pause:
		changed, err = ctrl.Pause(workflowID)
	case Resume:
		changed, err = ctrl.Resume(workflowID)
	case Cancel:
		err = ctrl.Cancel(ctx, workflowID)
		changed = err == nil
	}
	if err != nil {
		log.WithError(err).Warn("signal not applied")
		return
	}
	if !changed {
		log.Debug("signal had no effect")
		return
	}
	log.Info("signal applied")
}
