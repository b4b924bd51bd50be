package diffusion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jguan/picturebook/pkg/apperr"
	"github.com/jguan/picturebook/pkg/infra/docker"
	"github.com/jguan/picturebook/pkg/infra/huggingface"
	"github.com/jguan/picturebook/pkg/infra/logger"
)

const (
	// ContainerPort is the port the diffusers server listens on inside the image.
	ContainerPort = 7860

	roleLabel     = "picturebook.role"
	roleDiffusion = "diffusion"

	stopGrace    = 30 * time.Second
	cleanupGrace = 10 * time.Second
	crashLogTail = 50
)

// ContainerSettings configures the self-hosted diffusion server.
type ContainerSettings struct {
	Image string
	// Port is the host port on 127.0.0.1.
	Port       int
	Token      string
	WeightsDir string
	// StartupTimeout covers weight download and pipeline warmup.
	StartupTimeout time.Duration
}

// DockerBackend runs a diffusers server in a container and talks to it over
// the same inference protocol as the hub backend.
type DockerBackend struct {
	runtime      docker.Runtime
	settings     ContainerSettings
	pollInterval time.Duration
}

func NewDockerBackend(runtime docker.Runtime, settings ContainerSettings) *DockerBackend {
	if settings.StartupTimeout <= 0 {
		settings.StartupTimeout = 15 * time.Minute
	}
	return &DockerBackend{
		runtime:      runtime,
		settings:     settings,
		pollInterval: 2 * time.Second,
	}
}

func (b *DockerBackend) Name() string { return "docker" }

func (b *DockerBackend) Load(ctx context.Context, load LoadSettings) (Pipeline, error) {
	if b.settings.Image == "" {
		return nil, apperr.Configuration("diffusion.docker_image is required for the docker backend")
	}
	log := logger.WithContext(ctx)

	if err := b.reclaimPort(ctx); err != nil {
		return nil, err
	}

	// A failed pull is fine when the image is already present locally; Run
	// reports the real problem otherwise.
	if err := b.runtime.Pull(ctx, b.settings.Image); err != nil {
		log.Warn("image pull failed, trying local image", "image", b.settings.Image, "error", err)
	}

	id, err := b.runtime.Run(ctx, b.serverSpec(load))
	if err != nil {
		return nil, apperr.Upstream("docker", err)
	}
	log.Info("diffusion container started", "container", id, "image", b.settings.Image, "port", b.settings.Port)

	client := huggingface.NewClient(fmt.Sprintf("http://127.0.0.1:%d", b.settings.Port), "")
	if err := b.waitReady(ctx, id, client); err != nil {
		removeCtx, cancel := context.WithTimeout(context.Background(), stopGrace)
		defer cancel()
		if rmErr := b.runtime.Remove(removeCtx, id, cleanupGrace); rmErr != nil {
			log.Warn("failed to remove diffusion container", "container", id, "error", rmErr)
		}
		return nil, err
	}

	return &containerPipeline{
		remotePipeline: remotePipeline{client: client, model: load.ModelID, service: "diffusion-container"},
		runtime:        b.runtime,
		containerID:    id,
	}, nil
}

func (b *DockerBackend) serverSpec(load LoadSettings) docker.ServerSpec {
	env := map[string]string{
		"MODEL_ID":    load.ModelID,
		"TORCH_DTYPE": load.Precision,
		"DEVICE":      load.Device,
	}
	if b.settings.Token != "" {
		env["HF_TOKEN"] = b.settings.Token
	}
	return docker.ServerSpec{
		Name:          "picturebook-diffusion-" + uuid.NewString()[:8],
		Image:         b.settings.Image,
		Env:           env,
		HostPort:      b.settings.Port,
		ContainerPort: ContainerPort,
		Labels:        map[string]string{roleLabel: roleDiffusion},
		GPU:           load.GPU,
		CacheDir:      b.settings.WeightsDir,
	}
}

// reclaimPort removes stopped diffusion containers from earlier runs and
// refuses to start when a container picturebook does not own holds the port.
func (b *DockerBackend) reclaimPort(ctx context.Context) error {
	log := logger.WithContext(ctx)

	stale, err := b.runtime.Stopped(ctx, map[string]string{roleLabel: roleDiffusion})
	if err != nil {
		log.Warn("listing stale containers failed", "error", err)
	}
	for _, id := range stale {
		if err := b.runtime.Remove(ctx, id, cleanupGrace); err != nil {
			log.Warn("removing stale container failed", "container", id, "error", err)
		}
	}

	holders, err := b.runtime.PortHolders(ctx, b.settings.Port)
	if err != nil {
		return apperr.Upstream("docker", err)
	}
	for _, h := range holders {
		if !h.Managed {
			return apperr.Configuration("port %d is used by container %s (%s); set diffusion.docker_port",
				b.settings.Port, h.Name, h.Image)
		}
		log.Info("replacing running diffusion container", "container", h.ID)
		if err := b.runtime.Remove(ctx, h.ID, cleanupGrace); err != nil {
			return apperr.Upstream("docker", err)
		}
	}
	return nil
}

// waitReady polls the server until it answers, failing fast with the tail of
// the container log if the container dies first.
func (b *DockerBackend) waitReady(ctx context.Context, id string, client *huggingface.Client) error {
	ctx, cancel := context.WithTimeout(ctx, b.settings.StartupTimeout)
	defer cancel()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		if client.Healthy(ctx) {
			return nil
		}

		state, err := b.runtime.State(ctx, id)
		if err == nil && state != "running" && state != "created" {
			logs, _ := b.runtime.Logs(context.Background(), id, crashLogTail)
			return apperr.Upstream("diffusion-container",
				fmt.Errorf("container %s during startup: %s", state, logs))
		}

		select {
		case <-ctx.Done():
			return apperr.Upstream("diffusion-container",
				fmt.Errorf("server not ready after %s: %w", b.settings.StartupTimeout, ctx.Err()))
		case <-ticker.C:
		}
	}
}

type containerPipeline struct {
	remotePipeline
	runtime     docker.Runtime
	containerID string
}

func (p *containerPipeline) EnableAttentionSlicing(ctx context.Context) error {
	return p.client.SetOptions(ctx, map[string]any{"attention_slicing": true})
}

func (p *containerPipeline) EnableVAESlicing(ctx context.Context) error {
	return p.client.SetOptions(ctx, map[string]any{"vae_slicing": true})
}

func (p *containerPipeline) Close(ctx context.Context) error {
	logger.WithContext(ctx).Info("stopping diffusion container", "container", p.containerID)
	return p.runtime.Remove(ctx, p.containerID, stopGrace)
}
