// Package containerizer drives container stacks through the docker compose CLI.
package containerizer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"platformctl/pkg/logging"
)

// Stack identifies one compose project.
type Stack struct {
	Name    string    // service name, used for logging
	File    string    // absolute path to the compose file
	Project string    // optional project name (-p)
	WorkDir string    // optional working directory
	Log     io.Writer // receives combined command output; may be nil
}

// ComposeRuntime starts and stops container stacks.
type ComposeRuntime interface {
	Up(ctx context.Context, stack Stack) error
	Down(ctx context.Context, stack Stack, timeout time.Duration) error
	// PublishedBy returns the IDs of running containers publishing port.
	PublishedBy(ctx context.Context, port int) ([]string, error)
}

// CommandRunner executes an external command, streaming combined output to out.
type CommandRunner interface {
	Run(ctx context.Context, dir string, out io.Writer, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir string, out io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd.Run()
}

// DockerCompose implements ComposeRuntime with `docker compose`.
type DockerCompose struct {
	binary string
	runner CommandRunner
}

// NewDockerCompose returns a runtime that shells out to the docker binary.
func NewDockerCompose() *DockerCompose {
	return NewDockerComposeWithRunner("docker", execRunner{})
}

// NewDockerComposeWithRunner is used by tests to intercept command execution.
func NewDockerComposeWithRunner(binary string, runner CommandRunner) *DockerCompose {
	return &DockerCompose{binary: binary, runner: runner}
}

func (d *DockerCompose) baseArgs(stack Stack) []string {
	args := []string{"compose", "-f", stack.File}
	if stack.Project != "" {
		args = append(args, "-p", stack.Project)
	}
	return args
}

// Up starts the stack detached.
func (d *DockerCompose) Up(ctx context.Context, stack Stack) error {
	args := append(d.baseArgs(stack), "up", "-d")
	logging.Info("Compose", "Starting stack %s (%s)", stack.Name, stack.File)
	if err := d.run(ctx, stack, args); err != nil {
		return fmt.Errorf("compose up for %s failed: %w", stack.Name, err)
	}
	return nil
}

// Down stops and removes the stack's containers, giving them timeout to exit.
func (d *DockerCompose) Down(ctx context.Context, stack Stack, timeout time.Duration) error {
	seconds := int(timeout.Round(time.Second) / time.Second)
	args := append(d.baseArgs(stack), "down", "--timeout", strconv.Itoa(seconds))
	logging.Info("Compose", "Stopping stack %s (%s)", stack.Name, stack.File)
	if err := d.run(ctx, stack, args); err != nil {
		return fmt.Errorf("compose down for %s failed: %w", stack.Name, err)
	}
	return nil
}

// PublishedBy lists running containers that publish port on the host.
func (d *DockerCompose) PublishedBy(ctx context.Context, port int) ([]string, error) {
	var out bytes.Buffer
	args := []string{"ps", "--filter", "publish=" + strconv.Itoa(port), "--format", "{{.ID}}"}
	if err := d.runner.Run(ctx, "", &out, d.binary, args...); err != nil {
		return nil, fmt.Errorf("listing containers publishing %d: %w: %s", port, err, strings.TrimSpace(out.String()))
	}
	var ids []string
	for _, line := range strings.Split(out.String(), "\n") {
		if id := strings.TrimSpace(line); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (d *DockerCompose) run(ctx context.Context, stack Stack, args []string) error {
	out := stack.Log
	if out == nil {
		out = io.Discard
	}
	logging.Debug("Compose", "%s %s", d.binary, strings.Join(args, " "))
	return d.runner.Run(ctx, stack.WorkDir, out, d.binary, args...)
}
