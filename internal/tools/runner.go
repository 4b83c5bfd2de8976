package tools

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os/exec"
)

// CommandRunner runs short host commands for sandbox adapters and returns
// stdout, stderr and the exit code.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int32, error)
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

// Run reports 127 when the binary cannot be found.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int32, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	switch {
	case err == nil:
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	case isNotFound(err):
		return stdout.Bytes(), stderr.Bytes(), 127, err
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), int32(exitErr.ExitCode()), err
	}
	return stdout.Bytes(), stderr.Bytes(), 1, err
}

func isNotFound(err error) bool {
	var execErr *exec.Error
	return errors.As(err, &execErr) || errors.Is(err, fs.ErrNotExist)
}
