package diffusion

import (
	"path/filepath"

	"github.com/jguan/picturebook/pkg/apperr"
	"github.com/jguan/picturebook/pkg/config"
	"github.com/jguan/picturebook/pkg/infra/docker"
	"github.com/jguan/picturebook/pkg/infra/huggingface"
)

// NewFromConfig builds an invoker for the configured backend. Nothing is
// loaded until the first generation.
func NewFromConfig(cfg config.DiffusionConfig, staticDir string, opts ...LoaderOption) (*Invoker, error) {
	var backend Backend
	switch cfg.Backend {
	case "", "hub":
		backend = NewHubBackend(huggingface.NewClient(cfg.HubURL, cfg.HubToken))
	case "docker":
		engine, err := docker.NewEngine()
		if err != nil {
			return nil, apperr.Configuration("docker backend unavailable: %v", err)
		}
		backend = NewDockerBackend(engine, ContainerSettings{
			Image:          cfg.DockerImage,
			Port:           cfg.DockerPort,
			Token:          cfg.HubToken,
			WeightsDir:     cfg.WeightsDir,
			StartupTimeout: cfg.StartupTimeoutD,
		})
	default:
		return nil, apperr.Configuration("unknown diffusion backend %q", cfg.Backend)
	}

	loader := NewLoader(cfg.ModelID, backend, opts...)
	storage := Storage{Dir: cfg.OutputDir, URLPrefix: URLPrefixFor(staticDir, cfg.OutputDir)}
	defaults := Options{
		Steps:         cfg.Steps,
		GuidanceScale: cfg.GuidanceScale,
		Width:         cfg.Width,
		Height:        cfg.Height,
	}
	return NewInvoker(loader, storage, defaults), nil
}

// URLPrefixFor maps an output directory inside the static root to its web
// path. Directories outside the root keep the default prefix.
func URLPrefixFor(staticDir, outputDir string) string {
	rel, err := filepath.Rel(staticDir, outputDir)
	if err != nil || !filepath.IsLocal(rel) {
		return DefaultURLPrefix
	}
	if rel == "." {
		return "/static"
	}
	return "/static/" + filepath.ToSlash(rel)
}
