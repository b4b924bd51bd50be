// Package chat keeps up a short, child-directed conversation about a book
// page and summarizes finished conversations for adults.
package chat

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/jguan/picturebook/pkg/infra/logger"
	"github.com/jguan/picturebook/pkg/llm"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	ChildMarker     = "Child:"
	CompanionMarker = "Teacher:"
)

// Turn is one message of a conversation. Unknown roles are kept and shown
// verbatim in the transcript.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

//go:embed reaction_system.tmpl
var reactionSystemTmpl string

//go:embed summary_system.tmpl
var summarySystemTmpl string

var (
	reactionTemplate = template.Must(template.New("reaction").Parse(reactionSystemTmpl))
	summaryTemplate  = template.Must(template.New("summary").Parse(summarySystemTmpl))
)

type Options struct {
	Model    string
	Language string
	Timeout  time.Duration
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

// BuildReaction returns the companion's next utterance after latest.
// An empty string means the model had nothing to say.
func (b *Builder) BuildReaction(ctx context.Context, latest string, history []Turn) (string, error) {
	transcript := Transcript(append(append([]Turn(nil), history...), Turn{Role: RoleUser, Content: latest}))
	return b.complete(ctx, "reaction", reactionTemplate, transcript)
}

// SummarizeHistory returns a short third-person record of the conversation
// ending in a "Mood: <tag>" line.
func (b *Builder) SummarizeHistory(ctx context.Context, history []Turn) (string, error) {
	return b.complete(ctx, "summary", summaryTemplate, Transcript(history))
}

func (b *Builder) complete(ctx context.Context, kind string, system *template.Template, transcript string) (string, error) {
	if b.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()
	}

	instruction, err := b.instruction(system)
	if err != nil {
		return "", err
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: instruction},
		{Role: llm.RoleUser, Content: transcript},
	}
	resp, err := b.client.Chat(ctx, messages, llm.ChatOptions{Model: b.opts.Model})
	if err != nil {
		return "", err
	}

	out := strings.TrimSpace(resp.Text())
	logger.WithContext(ctx).Debug("chat completion", "kind", kind, "output_chars", len(out))
	return out, nil
}

func (b *Builder) instruction(t *template.Template) (string, error) {
	var buf bytes.Buffer
	err := t.Execute(&buf, struct {
		Language        string
		ChildMarker     string
		CompanionMarker string
	}{b.opts.Language, ChildMarker, CompanionMarker})
	if err != nil {
		return "", fmt.Errorf("render %s instruction: %w", t.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Transcript flattens turns into one line per turn, oldest first.
func Transcript(turns []Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, transcriptLine(t))
	}
	return strings.Join(lines, "\n")
}

func transcriptLine(t Turn) string {
	switch t.Role {
	case RoleUser:
		return ChildMarker + " " + t.Content
	case RoleAssistant:
		return CompanionMarker + " " + t.Content
	default:
		return string(t.Role) + ": " + t.Content
	}
}
