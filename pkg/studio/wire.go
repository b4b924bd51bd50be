package studio

import (
	"context"
	"fmt"

	"github.com/jguan/picturebook/pkg/chat"
	"github.com/jguan/picturebook/pkg/config"
	"github.com/jguan/picturebook/pkg/diffusion"
	"github.com/jguan/picturebook/pkg/infra/metrics"
	"github.com/jguan/picturebook/pkg/llm"
	"github.com/jguan/picturebook/pkg/prompt"
	"github.com/jguan/picturebook/pkg/translate"
	"github.com/jguan/picturebook/pkg/vision"
)

// Runtime is a fully wired service plus the resources it owns.
type Runtime struct {
	Service    *Service
	Invoker    *diffusion.Invoker
	Translator *translate.CachedTranslator
	LLM        llm.Client
	Config     *config.Config
}

// Build wires every stage from cfg. No external service is contacted and no
// model is loaded until a stage first runs.
func Build(cfg *config.Config) (*Runtime, error) {
	client, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("language model: %w", err)
	}

	translator, err := translate.NewFromConfig(cfg.Translate, cfg.Language.Name, client)
	if err != nil {
		return nil, fmt.Errorf("translator: %w", err)
	}

	invoker, err := diffusion.NewFromConfig(cfg.Diffusion, cfg.Server.StaticDir)
	if err != nil {
		return nil, fmt.Errorf("image generator: %w", err)
	}

	prompts := prompt.NewBuilder(client, prompt.Options{
		Model:    cfg.LLM.Model,
		Language: cfg.Language.Name,
		Timeout:  cfg.LLM.RequestTimeoutD,
	})
	companion := chat.NewBuilder(client, chat.Options{
		Model:    cfg.LLM.Model,
		Language: cfg.Language.Name,
		Timeout:  cfg.LLM.RequestTimeoutD,
	})
	detector := vision.NewCustomVisionDetector(cfg.Detection.PredictionURL, cfg.Detection.PredictionKey)

	svc := New(Deps{
		OCR:        vision.NewReadClient(cfg.OCR.Endpoint, cfg.OCR.Key),
		Prompts:    prompts,
		Images:     invoker,
		Detections: vision.NewRanker(detector, translator, cfg.Server.StaticDir),
		Companion:  companion,
		Metrics:    metrics.NewRegistry(),
	}, Options{
		TopK:         cfg.Detection.TopK,
		OCRCacheTTL:  cfg.Server.OCRCacheTTLD,
		OCRCacheSize: cfg.Server.OCRCacheSize,
	})

	return &Runtime{
		Service:    svc,
		Invoker:    invoker,
		Translator: translator,
		LLM:        client,
		Config:     cfg,
	}, nil
}

// Close stops the diffusion pipeline, including any container it started.
func (r *Runtime) Close(ctx context.Context) error {
	return r.Invoker.Close(ctx)
}
