package diffusion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jguan/picturebook/pkg/apperr"
	"github.com/jguan/picturebook/pkg/infra/hal"
	"github.com/jguan/picturebook/pkg/infra/hal/nvidia"
	"github.com/jguan/picturebook/pkg/infra/logger"
)

type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// DetectFunc reports the accelerators available to the pipeline.
type DetectFunc func(ctx context.Context) hal.Accelerators

// DefaultDetect probes nvidia-smi first and falls back to device nodes.
func DefaultDetect(ctx context.Context) hal.Accelerators {
	return hal.Detect(ctx, nvidia.NewProvider(), hal.NewDeviceNodeProvider(""))
}

// Loader owns the process-wide pipeline. Get constructs it on first use;
// a failed construction leaves nothing behind and the next call retries.
type Loader struct {
	modelID string
	backend Backend
	detect  DetectFunc

	mu       sync.Mutex
	pipeline Pipeline
	state    atomic.Int32
}

type LoaderOption func(*Loader)

func WithDetect(fn DetectFunc) LoaderOption {
	return func(l *Loader) { l.detect = fn }
}

func NewLoader(modelID string, backend Backend, opts ...LoaderOption) *Loader {
	l := &Loader{
		modelID: strings.TrimSpace(modelID),
		backend: backend,
		detect:  DefaultDetect,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) State() State { return State(l.state.Load()) }

func (l *Loader) ModelID() string { return l.modelID }

func (l *Loader) BackendName() string { return l.backend.Name() }

func (l *Loader) Get(ctx context.Context) (Pipeline, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pipeline != nil {
		return l.pipeline, nil
	}
	if l.modelID == "" {
		return nil, apperr.Configuration("diffusion model id is not set (SD_MODEL_ID)")
	}

	l.state.Store(int32(StateLoading))
	log := logger.WithContext(ctx)

	acc := l.detect(ctx)
	settings := LoadSettings{
		ModelID:   l.modelID,
		Precision: acc.Precision(),
		Device:    acc.Device(),
		GPU:       acc.HasGPU(),
	}
	log.Info("loading diffusion pipeline",
		"backend", l.backend.Name(), "model", settings.ModelID,
		"precision", settings.Precision, "device", settings.Device)

	p, err := l.backend.Load(ctx, settings)
	if err != nil {
		l.state.Store(int32(StateUninitialized))
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperr.Generation(err)
	}

	if ms, ok := p.(MemorySaver); ok {
		if err := ms.EnableAttentionSlicing(ctx); err != nil {
			log.Warn("attention slicing unavailable", "error", err)
		}
		if err := ms.EnableVAESlicing(ctx); err != nil {
			log.Warn("vae slicing unavailable", "error", err)
		}
	}

	l.pipeline = p
	l.state.Store(int32(StateReady))
	log.Info("diffusion pipeline ready", "backend", l.backend.Name())
	return p, nil
}

// Close releases the pipeline, if one was constructed.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pipeline == nil {
		return nil
	}
	err := l.pipeline.Close(ctx)
	l.pipeline = nil
	l.state.Store(int32(StateUninitialized))
	return err
}
