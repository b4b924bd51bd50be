// Package docker runs model-serving containers, such as the local diffusion
// server, and cleans up the ones a previous run left behind.
package docker

import (
	"context"
	"sort"
	"time"
)

const (
	// ManagedLabel marks containers started by picturebook.
	ManagedLabel = "picturebook.managed"

	// CacheMount is where serving images keep downloaded model weights.
	CacheMount = "/root/.cache/huggingface"
)

// ServerSpec describes one model server container.
type ServerSpec struct {
	Name  string
	Image string
	Env   map[string]string
	// HostPort on 127.0.0.1 forwards to ContainerPort.
	HostPort      int
	ContainerPort int
	Labels        map[string]string
	GPU           bool
	// CacheDir is bind-mounted at CacheMount when set, so weights survive
	// container restarts.
	CacheDir string
}

// PortHolder is a container publishing a host port.
type PortHolder struct {
	ID      string
	Name    string
	Image   string
	Managed bool
}

// Runtime is the container lifecycle the diffusion backend drives.
type Runtime interface {
	Pull(ctx context.Context, image string) error

	// Run creates and starts a container for spec and returns its ID.
	Run(ctx context.Context, spec ServerSpec) (string, error)

	// Remove stops the container, giving it grace to exit, then deletes it.
	// Unknown IDs are not an error.
	Remove(ctx context.Context, id string, grace time.Duration) error

	// State returns the container status ("created", "running", "exited", ...).
	State(ctx context.Context, id string) (string, error)

	// Logs returns the last tail lines of combined stdout and stderr.
	Logs(ctx context.Context, id string, tail int) (string, error)

	// Stopped returns managed containers matching labels that are not running.
	Stopped(ctx context.Context, labels map[string]string) ([]string, error)

	// PortHolders returns every container publishing the host port.
	PortHolders(ctx context.Context, port int) ([]PortHolder, error)
}

// envList renders env as sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func managedLabels(extra map[string]string) map[string]string {
	labels := map[string]string{ManagedLabel: "true"}
	for k, v := range extra {
		labels[k] = v
	}
	return labels
}

func isLive(state string) bool {
	return state == "running" || state == "restarting"
}
