// Package diffusion turns an illustration prompt into a stored image. A
// Loader constructs the backend pipeline once per process and an Invoker
// serializes generations on it.
package diffusion

import "context"

const (
	DefaultSteps         = 25
	DefaultGuidanceScale = 7.5
	DefaultWidth         = 512
	DefaultHeight        = 512

	// DefaultURLPrefix is where generated files are served from.
	DefaultURLPrefix = "/static/generated"
)

// Options are per-call overrides; zero values fall back to the invoker defaults.
type Options struct {
	Steps         int     `json:"steps,omitempty" yaml:"steps,omitempty"`
	GuidanceScale float64 `json:"guidanceScale,omitempty" yaml:"guidance_scale,omitempty"`
	Width         int     `json:"width,omitempty" yaml:"width,omitempty"`
	Height        int     `json:"height,omitempty" yaml:"height,omitempty"`
	Seed          *int64  `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// Noise selects the initial latent noise. Without Fixed the backend draws a
// fresh seed for every call.
type Noise struct {
	Seed  int64
	Fixed bool
}

type Request struct {
	Prompt         string
	NegativePrompt string
	Steps          int
	GuidanceScale  float64
	Width          int
	Height         int
	Noise          Noise
}

// ImageRef locates a generated image both on the web and on disk.
type ImageRef struct {
	URLPath  string `json:"imageUrl" yaml:"image_url"`
	FilePath string `json:"imagePath" yaml:"image_path"`
}

// LoadSettings are resolved once when the pipeline is constructed.
type LoadSettings struct {
	ModelID   string
	Precision string
	Device    string
	GPU       bool
}

// Pipeline is a loaded text-to-image model. Generate returns encoded images,
// first one first.
type Pipeline interface {
	Generate(ctx context.Context, req Request) ([][]byte, error)
	Close(ctx context.Context) error
}

// MemorySaver is implemented by pipelines that can trade speed for memory.
type MemorySaver interface {
	EnableAttentionSlicing(ctx context.Context) error
	EnableVAESlicing(ctx context.Context) error
}

// Backend constructs pipelines.
type Backend interface {
	Name() string
	Load(ctx context.Context, settings LoadSettings) (Pipeline, error)
}
