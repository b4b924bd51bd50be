// Package prompt turns OCR transcripts of storybook pages into illustration
// prompts and reading comprehension questions with one language model call each.
package prompt

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"
	"time"

	"github.com/jguan/picturebook/pkg/infra/logger"
	"github.com/jguan/picturebook/pkg/llm"
)

// NegativePrompt steers the image generator away from anatomical distortion,
// rendered text and anything unsuitable for young children.
const NegativePrompt = "low quality, worst quality, blurry, jpeg artifacts, " +
	"deformed, disfigured, bad anatomy, extra limbs, extra fingers, missing fingers, fused fingers, " +
	"mutated hands, malformed face, cross-eyed, long neck, " +
	"text, letters, words, watermark, signature, logo, caption, " +
	"scary, horror, gore, blood, violence, weapon, nsfw, nudity, dark and gloomy"

//go:embed image_system.tmpl
var imageSystemPrompt string

//go:embed questions_system.tmpl
var questionsSystemTmpl string

//go:embed user.tmpl
var userPromptTmpl string

var (
	questionsTemplate = template.Must(template.New("questions").Parse(questionsSystemTmpl))
	userTemplate      = template.Must(template.New("user").Parse(userPromptTmpl))
)

// Options tunes a Builder. Zero values fall back to the client's defaults.
type Options struct {
	// Model overrides the client's default model for every call.
	Model string
	// Language is the display name of the language questions are written in.
	Language string
	// Timeout bounds each model call.
	Timeout time.Duration
}

type Builder struct {
	client llm.Client
	opts   Options
}

func NewBuilder(client llm.Client, opts Options) *Builder {
	if opts.Language == "" {
		opts.Language = "Korean"
	}
	return &Builder{client: client, opts: opts}
}

// BuildImagePrompt returns a single-scene illustration prompt for ocrText.
// An empty string means the model produced no usable text.
func (b *Builder) BuildImagePrompt(ctx context.Context, ocrText string) (string, error) {
	return b.complete(ctx, "image_prompt", imageSystemPrompt, ocrText)
}

// BuildComprehensionQuestions returns five numbered questions about ocrText.
// The text is returned as the model wrote it.
func (b *Builder) BuildComprehensionQuestions(ctx context.Context, ocrText string) (string, error) {
	system := render(questionsTemplate, struct{ Language string }{b.opts.Language}, questionsSystemTmpl)
	return b.complete(ctx, "questions", system, ocrText)
}

func (b *Builder) complete(ctx context.Context, kind, system, text string) (string, error) {
	if b.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: strings.TrimSpace(system)},
		{Role: llm.RoleUser, Content: UserPrompt(text)},
	}

	resp, err := b.client.Chat(ctx, messages, llm.ChatOptions{Model: b.opts.Model})
	if err != nil {
		return "", err
	}

	out := strings.TrimSpace(resp.Text())
	logger.WithContext(ctx).Debug("prompt built",
		"kind", kind, "input_chars", len(text), "output_chars", len(out),
		"input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
	return out, nil
}

// UserPrompt renders the user turn carrying the OCR text.
func UserPrompt(text string) string {
	return render(userTemplate, struct{ Text string }{text}, "Input text: "+text)
}

func render(t *template.Template, data any, fallback string) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return fallback
	}
	return strings.TrimSpace(buf.String())
}
