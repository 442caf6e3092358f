// Package exec runs the shell commands attached to tasks.
package exec

import (
	"context"
)

// CommandRunner runs external commands. Tests substitute a fake.
type CommandRunner interface {
	// RunShell executes command through "sh -c" in workDir and returns the
	// combined stdout and stderr.
	RunShell(ctx context.Context, workDir string, command string) (output []byte, err error)
}
