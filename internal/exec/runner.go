package exec

import (
	"context"
	"errors"
	"fmt"
	osexec "os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/taskgraph/internal/executor"
	"github.com/ShayCichocki/taskgraph/internal/logging"
	"github.com/ShayCichocki/taskgraph/pkg/models"
)

// MetadataKey is the task metadata entry holding a shell command.
const MetadataKey = "command"

// maxOutput bounds the command output kept in a task result.
const maxOutput = 4096

// ErrCommandFailed wraps a non-zero exit.
var ErrCommandFailed = errors.New("command failed")

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct{}

// NewRunner creates a new ExecRunner.
func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

// RunShell executes a shell command through "sh -c".
func (r *ExecRunner) RunShell(ctx context.Context, workDir string, command string) ([]byte, error) {
	cmd := osexec.CommandContext(ctx, "sh", "-c", command)
	if workDir != "" {
		cmd.Dir = workDir
	}
	return cmd.CombinedOutput()
}

var _ CommandRunner = (*ExecRunner)(nil)

// Result is the outcome of a task command.
type Result struct {
	TaskID   string        `json:"task_id"`
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Command returns the shell command attached to t, if any.
func Command(t *models.Task) (string, bool) {
	if t == nil || t.Metadata == nil {
		return "", false
	}
	c, ok := t.Metadata[MetadataKey].(string)
	c = strings.TrimSpace(c)
	return c, ok && c != ""
}

// TaskRunner is an executor.ExecuteFunc source that runs task commands.
// Tasks without a command are left to the executor's default stepper.
type TaskRunner struct {
	runner  CommandRunner
	workDir string
	log     logrus.FieldLogger
}

// NewTaskRunner creates a TaskRunner that runs commands in workDir.
func NewTaskRunner(runner CommandRunner, workDir string, log logrus.FieldLogger) *TaskRunner {
	if runner == nil {
		runner = NewRunner()
	}
	return &TaskRunner{runner: runner, workDir: workDir, log: logging.Component(logging.OrNop(log), "exec")}
}

// Execute implements executor.ExecuteFunc.
func (r *TaskRunner) Execute(ctx context.Context, task *models.Task) (any, error) {
	command, ok := Command(task)
	if !ok {
		return nil, executor.ErrNotHandled
	}
	log := r.log.WithFields(logrus.Fields{"task_id": task.ID, "command": command})
	log.Debug("running task command")

	start := time.Now()
	out, err := r.runner.RunShell(ctx, r.workDir, command)
	res := &Result{
		TaskID:   task.ID,
		Command:  command,
		Output:   tail(string(out), maxOutput),
		Duration: time.Since(start),
	}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	res.ExitCode = -1
	var exitErr *osexec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	}
	log.WithField("exit_code", res.ExitCode).Warn("task command failed")
	return res, fmt.Errorf("%w: exit %d: %s", ErrCommandFailed, res.ExitCode, lastLine(res.Output))
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
