package command

import (
	"bytes"
	"context"
	"os/exec"
)

// Runner abstracts spawning an external tool so callers can be tested
// without real subprocesses.
type Runner interface {
	// Run executes name with args and returns captured stdout, stderr
	// and the process exit code. err is non-nil only when the process
	// could not be started or was interrupted; a nonzero exit code by
	// itself is not an error.
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, exitCode int, err error)
}

// Local runs commands on the local machine via os/exec.
type Local struct {
	// Dir is the working directory for spawned commands. Empty means
	// the current directory.
	Dir string
}

func (l *Local) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = l.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdout.String(), stderr.String(), exitCode, err
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}
