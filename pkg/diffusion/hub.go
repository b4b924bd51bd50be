package diffusion

import (
	"context"
	"errors"

	"github.com/jguan/picturebook/pkg/apperr"
	"github.com/jguan/picturebook/pkg/infra/huggingface"
	"github.com/jguan/picturebook/pkg/infra/logger"
)

// HubBackend generates through a hosted Hugging Face inference endpoint.
type HubBackend struct {
	client *huggingface.Client
}

func NewHubBackend(client *huggingface.Client) *HubBackend {
	return &HubBackend{client: client}
}

func (b *HubBackend) Name() string { return "hub" }

// Load checks the model card. A card that cannot be read or does not
// describe a text-to-image model is only a warning: private and gated
// repositories still serve inference with the right token.
func (b *HubBackend) Load(ctx context.Context, settings LoadSettings) (Pipeline, error) {
	log := logger.WithContext(ctx)
	info, err := b.client.GetModelInfo(ctx, settings.ModelID)
	switch {
	case err != nil:
		log.Warn("model card lookup failed", "model", settings.ModelID, "error", err)
	case info.PipelineTag != huggingface.PipelineTextToImage:
		log.Warn("model is not tagged text-to-image", "model", settings.ModelID, "pipeline_tag", info.PipelineTag)
	}
	return &remotePipeline{client: b.client, model: settings.ModelID, service: "huggingface"}, nil
}

// remotePipeline speaks the text-to-image protocol to a server.
type remotePipeline struct {
	client  *huggingface.Client
	model   string
	service string
}

func (p *remotePipeline) Generate(ctx context.Context, req Request) ([][]byte, error) {
	params := huggingface.TextToImageParameters{
		NegativePrompt:    req.NegativePrompt,
		NumInferenceSteps: req.Steps,
		GuidanceScale:     req.GuidanceScale,
		Width:             req.Width,
		Height:            req.Height,
	}
	if req.Noise.Fixed {
		seed := req.Noise.Seed
		params.Seed = &seed
	}

	data, err := p.client.TextToImage(ctx, p.model, req.Prompt, params)
	if err != nil {
		var se *huggingface.StatusError
		if errors.As(err, &se) {
			return nil, apperr.UpstreamStatus(p.service, se.StatusCode, se.Message)
		}
		return nil, apperr.Upstream(p.service, err)
	}
	return [][]byte{data}, nil
}

func (p *remotePipeline) Close(ctx context.Context) error { return nil }
