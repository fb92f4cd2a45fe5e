package container

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"testbed/pkg/logging"
)

const dockerSubsystem = "Docker"

// Runtime is the narrow container engine contract the provider consumes.
type Runtime interface {
	// PullImage pulls an image unless it is already present.
	PullImage(ctx context.Context, image string) error
	// Run starts a detached container and returns its id.
	Run(ctx context.Context, spec Spec) (string, error)
	// Running reports whether the container is running.
	Running(ctx context.Context, id string) (bool, error)
	// HostPort returns the host port a container port is published on.
	HostPort(ctx context.Context, id, containerPort string) (string, error)
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
}

// Spec describes one container to run.
type Spec struct {
	Name    string
	Image   string
	Env     map[string]string
	Ports   []string
	Volumes []string
	Command []string
	Labels  map[string]string
}

// RuntimeType selects the container engine CLI.
type RuntimeType string

const (
	RuntimeDocker RuntimeType = "docker"
	RuntimePodman RuntimeType = "podman"
)

// NewRuntime returns the runtime for the named engine. Docker is the default.
func NewRuntime(name string) (Runtime, error) {
	switch rt := RuntimeType(strings.ToLower(name)); rt {
	case RuntimeDocker, "":
		return NewCLIRuntime(string(RuntimeDocker))
	case RuntimePodman:
		return NewCLIRuntime(string(RuntimePodman))
	default:
		return nil, fmt.Errorf("unsupported container runtime: %s", name)
	}
}

// CLIRuntime drives a docker compatible command line client.
type CLIRuntime struct {
	binary string
}

// execCommandContext is a variable to allow mocking in tests
var execCommandContext = exec.CommandContext

// NewCLIRuntime checks that binary is installed and its daemon answers.
func NewCLIRuntime(binary string) (*CLIRuntime, error) {
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("%s command not found in PATH: %w", binary, err)
	}
	cmd := execCommandContext(context.Background(), binary, "info")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s daemon not accessible: %w", binary, err)
	}
	return &CLIRuntime{binary: binary}, nil
}

func (d *CLIRuntime) PullImage(ctx context.Context, image string) error {
	checkCmd := execCommandContext(ctx, d.binary, "image", "inspect", image)
	if err := checkCmd.Run(); err == nil {
		logging.Debug(dockerSubsystem, "Image %s already exists", image)
		return nil
	}

	logging.Info(dockerSubsystem, "Pulling image %s", image)
	pullCmd := execCommandContext(ctx, d.binary, "pull", image)
	if output, err := pullCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to pull image %s: %w\nOutput: %s", image, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// runArgs renders spec as arguments of "run". Env and labels are sorted so
// the command line is stable.
func runArgs(spec Spec) []string {
	args := []string{"run", "-d"}
	if spec.Name != "" {
		args = append(args, "--name", spec.Name)
	}
	for _, k := range sortedKeys(spec.Labels) {
		args = append(args, "--label", fmt.Sprintf("%s=%s", k, spec.Labels[k]))
	}
	for _, k := range sortedKeys(spec.Env) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, spec.Env[k]))
	}
	for _, port := range spec.Ports {
		args = append(args, "-p", port)
	}
	for _, vol := range spec.Volumes {
		args = append(args, "-v", expandPath(vol))
	}
	args = append(args, spec.Image)
	return append(args, spec.Command...)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (d *CLIRuntime) Run(ctx context.Context, spec Spec) (string, error) {
	args := runArgs(spec)
	logging.Debug(dockerSubsystem, "Starting container with command: %s %s", d.binary, strings.Join(args, " "))

	output, err := execCommandContext(ctx, d.binary, args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to start container: %w\nOutput: %s", err, string(output))
	}
	id := strings.TrimSpace(string(output))
	logging.Info(dockerSubsystem, "Started container %s with ID %s", spec.Name, shortID(id))
	return id, nil
}

func (d *CLIRuntime) Running(ctx context.Context, id string) (bool, error) {
	output, err := execCommandContext(ctx, d.binary, "inspect", "-f", "{{.State.Running}}", id).Output()
	if err != nil {
		return false, fmt.Errorf("failed to inspect container %s: %w", shortID(id), err)
	}
	return strings.TrimSpace(string(output)) == "true", nil
}

func (d *CLIRuntime) HostPort(ctx context.Context, id, containerPort string) (string, error) {
	output, err := execCommandContext(ctx, d.binary, "port", id, containerPort).Output()
	if err != nil {
		return "", fmt.Errorf("failed to get port mapping for %s:%s: %w", shortID(id), containerPort, err)
	}

	// One mapping per line, "0.0.0.0:32768" or "[::]:32768".
	line, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	if line == "" {
		return "", fmt.Errorf("no port mapping found for %s:%s", shortID(id), containerPort)
	}
	idx := strings.LastIndex(line, ":")
	if idx < 0 || idx == len(line)-1 {
		return "", fmt.Errorf("unexpected port output format: %s", line)
	}
	return line[idx+1:], nil
}

func (d *CLIRuntime) Stop(ctx context.Context, id string) error {
	logging.Info(dockerSubsystem, "Stopping container %s", shortID(id))
	if err := execCommandContext(ctx, d.binary, "stop", id).Run(); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", shortID(id), err)
	}
	return nil
}

func (d *CLIRuntime) Remove(ctx context.Context, id string) error {
	logging.Debug(dockerSubsystem, "Removing container %s", shortID(id))
	if err := execCommandContext(ctx, d.binary, "rm", "-f", id).Run(); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", shortID(id), err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// expandPath expands tilde in paths to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
