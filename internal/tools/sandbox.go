package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrSandboxCommand = errors.New("tools: sandbox command failed")

// Sandbox is the container lifecycle tied to a tool run.
type Sandbox interface {
	Stop(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
}

// NoopSandbox is used by tools that run directly on the host.
type NoopSandbox struct{}

func (NoopSandbox) Stop(context.Context, string) error   { return nil }
func (NoopSandbox) Remove(context.Context, string) error { return nil }

// DockerSandbox drives the docker CLI.
type DockerSandbox struct {
	Binary string
	Runner CommandRunner
}

func NewDockerSandbox(binary string) DockerSandbox {
	return DockerSandbox{Binary: binary, Runner: ExecRunner{}}
}

func (d DockerSandbox) Stop(ctx context.Context, name string) error {
	return d.run(ctx, "stop", name)
}

func (d DockerSandbox) Remove(ctx context.Context, name string) error {
	return d.run(ctx, "rm", name)
}

func (d DockerSandbox) run(ctx context.Context, verb, name string) error {
	binary := strings.TrimSpace(d.Binary)
	if binary == "" {
		binary = "docker"
	}
	runner := d.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	_, stderr, exitCode, err := runner.Run(ctx, binary, verb, name)
	if err != nil {
		return fmt.Errorf("%w: %s %s %s exit=%d: %s", ErrSandboxCommand, binary, verb, name, exitCode, strings.TrimSpace(string(stderr)))
	}
	return nil
}
