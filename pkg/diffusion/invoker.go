package diffusion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jguan/picturebook/pkg/apperr"
	"github.com/jguan/picturebook/pkg/infra/imageio"
	"github.com/jguan/picturebook/pkg/infra/logger"
	"github.com/jguan/picturebook/pkg/prompt"
)

// Storage says where generated files go and how they are addressed.
type Storage struct {
	Dir       string
	URLPrefix string
}

// Invoker runs one generation at a time; callers queue on a single slot and
// give up when their context ends.
type Invoker struct {
	loader   *Loader
	storage  Storage
	defaults Options
	slot     chan struct{}
}

func NewInvoker(loader *Loader, storage Storage, defaults Options) *Invoker {
	if storage.URLPrefix == "" {
		storage.URLPrefix = DefaultURLPrefix
	}
	storage.URLPrefix = "/" + strings.Trim(storage.URLPrefix, "/")
	return &Invoker{
		loader:   loader,
		storage:  storage,
		defaults: defaults,
		slot:     make(chan struct{}, 1),
	}
}

func (inv *Invoker) Loader() *Loader { return inv.loader }

// Request merges opts over the invoker defaults.
func (inv *Invoker) Request(text string, opts Options) Request {
	req := Request{
		Prompt:         text,
		NegativePrompt: prompt.NegativePrompt,
		Steps:          firstInt(opts.Steps, inv.defaults.Steps, DefaultSteps),
		GuidanceScale:  DefaultGuidanceScale,
		Width:          firstInt(opts.Width, inv.defaults.Width, DefaultWidth),
		Height:         firstInt(opts.Height, inv.defaults.Height, DefaultHeight),
	}
	switch {
	case opts.GuidanceScale > 0:
		req.GuidanceScale = opts.GuidanceScale
	case inv.defaults.GuidanceScale > 0:
		req.GuidanceScale = inv.defaults.GuidanceScale
	}

	seed := opts.Seed
	if seed == nil {
		seed = inv.defaults.Seed
	}
	if seed != nil {
		req.Noise = Noise{Seed: *seed, Fixed: true}
	}
	return req
}

func (inv *Invoker) GenerateImage(ctx context.Context, text string, opts Options) (*ImageRef, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.InvalidRequest("prompt is required")
	}
	if opts.Width%8 != 0 || opts.Height%8 != 0 || opts.Width < 0 || opts.Height < 0 {
		return nil, apperr.InvalidRequest("width and height must be positive multiples of 8")
	}

	select {
	case inv.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, apperr.Generation(fmt.Errorf("waiting for generation slot: %w", ctx.Err()))
	}
	defer func() { <-inv.slot }()

	pipeline, err := inv.loader.Get(ctx)
	if err != nil {
		return nil, err
	}

	req := inv.Request(text, opts)
	log := logger.WithContext(ctx)
	log.Debug("generating image", "steps", req.Steps, "width", req.Width, "height", req.Height, "fixed_seed", req.Noise.Fixed)

	images, err := pipeline.Generate(ctx, req)
	if err != nil {
		return nil, apperr.Generation(err)
	}
	if len(images) == 0 {
		return nil, apperr.Generation(errors.New("pipeline returned no images"))
	}

	img, _, err := imageio.Decode(images[0])
	if err != nil {
		return nil, apperr.Generation(err)
	}

	if err := os.MkdirAll(inv.storage.Dir, 0o755); err != nil {
		return nil, apperr.Generation(fmt.Errorf("create output dir: %w", err))
	}
	name := strings.ReplaceAll(uuid.NewString(), "-", "") + ".png"
	path, err := filepath.Abs(filepath.Join(inv.storage.Dir, name))
	if err != nil {
		return nil, apperr.Generation(err)
	}
	if err := imageio.SavePNG(img, path); err != nil {
		return nil, apperr.Generation(err)
	}

	ref := &ImageRef{URLPath: inv.storage.URLPrefix + "/" + name, FilePath: path}
	log.Info("image generated", "url", ref.URLPath)
	return ref, nil
}

// Close shuts down the pipeline after any running generation finishes.
func (inv *Invoker) Close(ctx context.Context) error {
	select {
	case inv.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-inv.slot }()
	return inv.loader.Close(ctx)
}

func firstInt(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
