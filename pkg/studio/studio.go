// Package studio ties the page stages together: OCR, illustration prompt,
// image generation, object detection and the companion chat.
package studio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/jguan/picturebook/pkg/apperr"
	"github.com/jguan/picturebook/pkg/chat"
	"github.com/jguan/picturebook/pkg/diffusion"
	"github.com/jguan/picturebook/pkg/infra/logger"
	"github.com/jguan/picturebook/pkg/infra/metrics"
	"github.com/jguan/picturebook/pkg/vision"
)

// Stage names, used for logging and metrics.
const (
	StageOCR       = "ocr"
	StagePrompt    = "prompt"
	StageQuestions = "questions"
	StageGenerate  = "generate"
	StageDetect    = "detect"
	StageReply     = "chat_reply"
	StageSummary   = "chat_summary"
)

type TextExtractor interface {
	ExtractText(ctx context.Context, image []byte) (string, error)
}

type PromptBuilder interface {
	BuildImagePrompt(ctx context.Context, ocrText string) (string, error)
	BuildComprehensionQuestions(ctx context.Context, ocrText string) (string, error)
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, opts diffusion.Options) (*diffusion.ImageRef, error)
}

type DetectionRanker interface {
	RankDetections(ctx context.Context, imageRef string, topK int) ([]vision.Detection, error)
}

type Companion interface {
	BuildReaction(ctx context.Context, latest string, history []chat.Turn) (string, error)
	SummarizeHistory(ctx context.Context, history []chat.Turn) (string, error)
}

type Deps struct {
	OCR        TextExtractor
	Prompts    PromptBuilder
	Images     ImageGenerator
	Detections DetectionRanker
	Companion  Companion
	Metrics    *metrics.Registry
}

type Options struct {
	// TopK is the default detection count; zero or less returns none.
	TopK         int
	OCRCacheTTL  time.Duration
	OCRCacheSize int
}

type Service struct {
	deps     Deps
	topK     int
	ocrCache *expirable.LRU[string, string]
}

func New(deps Deps, opts Options) *Service {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRegistry()
	}
	// A zero OCR cache size or TTL leaves that bound off.
	return &Service{
		deps:     deps,
		topK:     opts.TopK,
		ocrCache: expirable.NewLRU[string, string](opts.OCRCacheSize, nil, opts.OCRCacheTTL),
	}
}

// TopK is the number of detections returned when a caller does not ask.
func (s *Service) TopK() int { return s.topK }

func (s *Service) Metrics() *metrics.Registry { return s.deps.Metrics }

// ExtractText reads the text on a page photo. Results are cached by the
// SHA-256 of the image bytes.
func (s *Service) ExtractText(ctx context.Context, image []byte) (text string, err error) {
	if len(image) == 0 {
		return "", apperr.InvalidRequest("image is empty")
	}
	ctx = logger.SetStage(ctx, StageOCR)
	defer s.deps.Metrics.Observe(StageOCR, time.Now(), &err)

	sum := sha256.Sum256(image)
	key := hex.EncodeToString(sum[:])
	if cached, ok := s.ocrCache.Get(key); ok {
		logger.WithContext(ctx).Debug("ocr cache hit", "sha256", key[:12])
		return cached, nil
	}

	text, err = s.deps.OCR.ExtractText(ctx, image)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	s.ocrCache.Add(key, text)
	return text, nil
}

func (s *Service) BuildPrompt(ctx context.Context, text string) (prompt string, err error) {
	if strings.TrimSpace(text) == "" {
		return "", apperr.InvalidRequest("text is required")
	}
	ctx = logger.SetStage(ctx, StagePrompt)
	defer s.deps.Metrics.Observe(StagePrompt, time.Now(), &err)
	return s.deps.Prompts.BuildImagePrompt(ctx, text)
}

func (s *Service) BuildQuestions(ctx context.Context, text string) (questions string, err error) {
	if strings.TrimSpace(text) == "" {
		return "", apperr.InvalidRequest("text is required")
	}
	ctx = logger.SetStage(ctx, StageQuestions)
	defer s.deps.Metrics.Observe(StageQuestions, time.Now(), &err)
	return s.deps.Prompts.BuildComprehensionQuestions(ctx, text)
}

func (s *Service) GenerateImage(ctx context.Context, prompt string, opts diffusion.Options) (ref *diffusion.ImageRef, err error) {
	ctx = logger.SetStage(ctx, StageGenerate)
	defer s.deps.Metrics.Observe(StageGenerate, time.Now(), &err)
	return s.deps.Images.GenerateImage(ctx, prompt, opts)
}

func (s *Service) DetectObjects(ctx context.Context, imageRef string, topK int) (dets []vision.Detection, err error) {
	if strings.TrimSpace(imageRef) == "" {
		return nil, apperr.InvalidRequest("image url is required")
	}
	ctx = logger.SetStage(ctx, StageDetect)
	defer s.deps.Metrics.Observe(StageDetect, time.Now(), &err)
	return s.deps.Detections.RankDetections(ctx, imageRef, topK)
}

func (s *Service) Reply(ctx context.Context, message string, history []chat.Turn) (reply string, err error) {
	if strings.TrimSpace(message) == "" {
		return "", apperr.InvalidRequest("message is required")
	}
	ctx = logger.SetStage(ctx, StageReply)
	defer s.deps.Metrics.Observe(StageReply, time.Now(), &err)
	return s.deps.Companion.BuildReaction(ctx, message, history)
}

func (s *Service) Summarize(ctx context.Context, history []chat.Turn) (summary string, err error) {
	if len(history) == 0 {
		return "", apperr.InvalidRequest("history is empty")
	}
	ctx = logger.SetStage(ctx, StageSummary)
	defer s.deps.Metrics.Observe(StageSummary, time.Now(), &err)
	return s.deps.Companion.SummarizeHistory(ctx, history)
}

type PageOptions struct {
	// TopK overrides the configured detection count when non-nil.
	TopK      *int
	Questions bool
	Image     diffusion.Options
}

type PageResult struct {
	OCRText    string             `json:"ocrText" yaml:"ocr_text"`
	Prompt     string             `json:"prompt" yaml:"prompt"`
	ImageURL   string             `json:"imageUrl" yaml:"image_url"`
	ImagePath  string             `json:"imagePath" yaml:"image_path"`
	Detections []vision.Detection `json:"detections" yaml:"detections"`
	Questions  string             `json:"questions,omitempty" yaml:"questions,omitempty"`
}

// ProcessPage runs a page photo through every stage. The first failing
// stage aborts the page.
func (s *Service) ProcessPage(ctx context.Context, image []byte, opts PageOptions) (*PageResult, error) {
	log := logger.WithContext(ctx)

	text, err := s.ExtractText(ctx, image)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, apperr.InvalidRequest("no text found on the page")
	}

	prompt, err := s.BuildPrompt(ctx, text)
	if err != nil {
		return nil, err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, apperr.Generation(errors.New("no usable prompt"))
	}
	log.Debug("illustration prompt", "prompt", prompt)

	topK := s.topK
	if opts.TopK != nil {
		topK = *opts.TopK
	}

	// Questions only need the text, so they are written while the image
	// renders. The first failure cancels the other branch.
	var (
		ref       *diffusion.ImageRef
		dets      []vision.Detection
		questions string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if ref, err = s.GenerateImage(gctx, prompt, opts.Image); err != nil {
			return err
		}
		dets, err = s.DetectObjects(gctx, ref.URLPath, topK)
		return err
	})
	if opts.Questions {
		g.Go(func() error {
			var err error
			questions, err = s.BuildQuestions(gctx, text)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &PageResult{
		OCRText:    text,
		Prompt:     prompt,
		ImageURL:   ref.URLPath,
		ImagePath:  ref.FilePath,
		Detections: dets,
		Questions:  questions,
	}

	log.Info("page processed", "image", ref.URLPath, "detections", len(dets))
	return result, nil
}
