package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// shmSize backs /dev/shm, which torch uses to share tensors between workers.
const shmSize = 2 << 30

// Engine implements Runtime against a Docker daemon.
type Engine struct {
	api *dockerclient.Client
}

// NewEngine connects using the standard environment (DOCKER_HOST,
// DOCKER_TLS_VERIFY, DOCKER_CERT_PATH) and negotiates the API version.
func NewEngine() (*Engine, error) {
	api, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Engine{api: api}, nil
}

// Pull fails when the daemon reports an error in the progress stream, not
// only when the request itself fails.
func (e *Engine) Pull(ctx context.Context, ref string) error {
	rc, err := e.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	defer rc.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	return nil
}

func (e *Engine) Run(ctx context.Context, spec ServerSpec) (string, error) {
	port := nat.Port(strconv.Itoa(spec.ContainerPort) + "/tcp")

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          envList(spec.Env),
		Labels:       managedLabels(spec.Labels),
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}

	// No restart policy: a crash-looping server would pass for one that is
	// still starting.
	host := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: {{HostIP: "127.0.0.1", HostPort: strconv.Itoa(spec.HostPort)}},
		},
		ShmSize: shmSize,
	}
	if spec.CacheDir != "" {
		host.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: spec.CacheDir,
			Target: CacheMount,
		}}
	}
	if spec.GPU {
		host.DeviceRequests = []container.DeviceRequest{{
			Driver:       "nvidia",
			Count:        -1,
			Capabilities: [][]string{{"gpu"}},
		}}
	}

	created, err := e.api.ContainerCreate(ctx, cfg, host, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", spec.Name, err)
	}

	if err := e.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// A created container keeps its port binding until removed.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = e.api.ContainerRemove(cleanupCtx, created.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("start %s: %w", spec.Name, err)
	}
	return created.ID, nil
}

func (e *Engine) Remove(ctx context.Context, id string, grace time.Duration) error {
	seconds := int(grace.Seconds())
	if err := e.api.ContainerStop(ctx, id, container.StopOptions{Timeout: &seconds}); err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("stop %s: %w", shortID(id), err)
	}
	if err := e.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("remove %s: %w", shortID(id), err)
	}
	return nil
}

func (e *Engine) State(ctx context.Context, id string) (string, error) {
	info, err := e.api.ContainerInspect(ctx, id)
	if err != nil {
		return "", fmt.Errorf("inspect %s: %w", shortID(id), err)
	}
	return info.State.Status, nil
}

// Logs demultiplexes the daemon's framed stream; containers run without a TTY.
func (e *Engine) Logs(ctx context.Context, id string, tail int) (string, error) {
	rc, err := e.api.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return "", fmt.Errorf("logs %s: %w", shortID(id), err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return buf.String(), fmt.Errorf("read logs %s: %w", shortID(id), err)
	}
	return buf.String(), nil
}

func (e *Engine) Stopped(ctx context.Context, labels map[string]string) ([]string, error) {
	f := filters.NewArgs(filters.Arg("label", ManagedLabel+"=true"))
	for k, v := range labels {
		f.Add("label", k+"="+v)
	}

	list, err := e.api.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	var ids []string
	for _, c := range list {
		if !isLive(c.State) {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

func (e *Engine) PortHolders(ctx context.Context, port int) ([]PortHolder, error) {
	f := filters.NewArgs(filters.Arg("publish", strconv.Itoa(port)))

	list, err := e.api.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("list containers on port %d: %w", port, err)
	}

	holders := make([]PortHolder, 0, len(list))
	for _, c := range list {
		var name string
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		holders = append(holders, PortHolder{
			ID:      c.ID,
			Name:    name,
			Image:   c.Image,
			Managed: c.Labels[ManagedLabel] == "true",
		})
	}
	return holders, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
