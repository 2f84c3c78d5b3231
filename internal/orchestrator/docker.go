package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
)

const (
	imagePullTimeout   = 5 * time.Minute
	containerOpTimeout = 30 * time.Second
	stopGraceSeconds   = 10
)

// DockerOrchestrator runs plugin backends as Docker containers.
type DockerOrchestrator struct {
	cli *client.Client
}

// NewDockerOrchestrator connects to the Docker daemon from the environment.
func NewDockerOrchestrator() (*DockerOrchestrator, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create container runtime client: %w", err)
	}
	return &DockerOrchestrator{cli: cli}, nil
}

// Close releases the underlying client.
func (d *DockerOrchestrator) Close() error {
	return d.cli.Close()
}

// Deploy pulls the image, creates the container with the host port binding
// and starts it.
func (d *DockerOrchestrator) Deploy(ctx context.Context, spec DeploymentSpec) (string, error) {
	if err := d.pullImage(ctx, spec.Image); err != nil {
		return "", err
	}

	containerPort := spec.ContainerPort
	if containerPort == 0 {
		containerPort = spec.Port
	}
	exposed := nat.Port(fmt.Sprintf("%d/tcp", containerPort))

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	createCtx, cancel := context.WithTimeout(ctx, containerOpTimeout)
	defer cancel()

	resp, err := d.cli.ContainerCreate(createCtx,
		&container.Config{
			Image:        spec.Image,
			Env:          env,
			Labels:       spec.Labels,
			ExposedPorts: nat.PortSet{exposed: struct{}{}},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				exposed: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", spec.Port)}},
			},
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		},
		nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}

	startCtx, cancelStart := context.WithTimeout(ctx, containerOpTimeout)
	defer cancelStart()

	if err := d.cli.ContainerStart(startCtx, resp.ID, container.StartOptions{}); err != nil {
		// Leave no half-created container behind.
		if rmErr := d.Teardown(ctx, resp.ID); rmErr != nil {
			slog.Warn("cleanup after failed start", "container", resp.ID, "error", rmErr)
		}
		return "", fmt.Errorf("failed to start container %s: %w", spec.Name, err)
	}

	slog.Info("container started", "container", resp.ID[:12], "name", spec.Name, "port", spec.Port)
	return resp.ID, nil
}

func (d *DockerOrchestrator) pullImage(ctx context.Context, imageName string) error {
	pullCtx, cancel := context.WithTimeout(ctx, imagePullTimeout)
	defer cancel()

	reader, err := d.cli.ImagePull(pullCtx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	defer reader.Close()

	// Drain the progress stream; the pull is not complete until EOF.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to read pull output: %w", err)
	}
	return nil
}

// Inspect reports container state, mapping "not found" to (nil, nil).
func (d *DockerOrchestrator) Inspect(ctx context.Context, containerID string) (*ContainerState, error) {
	inspect, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	return &ContainerState{
		ID:      inspect.ID,
		Running: inspect.State != nil && inspect.State.Running,
		Status:  inspect.State.Status,
	}, nil
}

// Restart restarts a container with the standard stop grace period.
func (d *DockerOrchestrator) Restart(ctx context.Context, containerID string) error {
	opCtx, cancel := context.WithTimeout(ctx, containerOpTimeout+stopGraceSeconds*time.Second)
	defer cancel()

	timeout := stopGraceSeconds
	if err := d.cli.ContainerRestart(opCtx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to restart container %s: %w", containerID, err)
	}
	return nil
}

// Teardown stops and force-removes a container.
func (d *DockerOrchestrator) Teardown(ctx context.Context, containerID string) error {
	opCtx, cancel := context.WithTimeout(ctx, containerOpTimeout+stopGraceSeconds*time.Second)
	defer cancel()

	timeout := stopGraceSeconds
	if err := d.cli.ContainerStop(opCtx, containerID, container.StopOptions{Timeout: &timeout}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to stop container %s: %w", containerID, err)
	}
	if err := d.cli.ContainerRemove(opCtx, containerID, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}
	return nil
}
