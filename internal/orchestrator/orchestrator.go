// Package orchestrator abstracts the container runtime that hosts plugin
// backends. The lifecycle layer talks to this interface; the Docker
// implementation is the only one in production, with fakes in tests.
package orchestrator

import "context"

// DeploymentSpec describes one plugin backend container.
type DeploymentSpec struct {
	// Name is the container name, derived from deployment id and slot.
	Name string
	// Image is the plugin backend image from the manifest.
	Image string
	// Port is the host port bound to the container's service port.
	Port int
	// ContainerPort is the port the backend listens on inside the container.
	ContainerPort int
	// Env is injected into the container environment.
	Env map[string]string
	// Labels tag the container for discovery and cleanup.
	Labels map[string]string
}

// ContainerState is a point-in-time runtime view of a deployed backend.
type ContainerState struct {
	ID      string
	Running bool
	Status  string
}

// Orchestrator manages plugin backend containers.
type Orchestrator interface {
	// Deploy pulls the image if needed, creates and starts the container,
	// and returns its id.
	Deploy(ctx context.Context, spec DeploymentSpec) (string, error)
	// Inspect reports the container's current state. A missing container
	// returns (nil, nil).
	Inspect(ctx context.Context, containerID string) (*ContainerState, error)
	// Restart restarts a container in place.
	Restart(ctx context.Context, containerID string) error
	// Teardown stops and removes a container. Tearing down a container that
	// no longer exists is not an error.
	Teardown(ctx context.Context, containerID string) error
}
