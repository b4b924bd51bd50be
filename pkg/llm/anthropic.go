package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/jguan/picturebook/pkg/apperr"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-haiku-4-5-20251001"
	anthropicAPIVersion     = "2023-06-01"

	// defaultMaxTokens is sent when the caller sets no limit; the Messages
	// API requires one.
	defaultMaxTokens = 1024
)

// AnthropicClient speaks the Messages API. System turns travel in the
// top-level system field rather than in the message list.
type AnthropicClient struct {
	rest   restClient
	apiKey string
	model  string
}

func NewAnthropicClient(model, apiKey, baseURL string) *AnthropicClient {
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &AnthropicClient{
		rest: newRESTClient("anthropic", baseURL, map[string]string{
			"x-api-key":         apiKey,
			"anthropic-version": anthropicAPIVersion,
		}),
		apiKey: apiKey,
		model:  pickModel(model, defaultAnthropicModel),
	}
}

func (c *AnthropicClient) Name() string      { return "anthropic" }
func (c *AnthropicClient) ModelName() string { return c.model }

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicReply struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (r *anthropicReply) errorMessage() string {
	if r.Error == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", r.Error.Type, r.Error.Message)
}

// text joins the text blocks, skipping thinking and tool blocks.
func (r *anthropicReply) text() string {
	var sb strings.Builder
	for _, b := range r.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func (c *AnthropicClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error) {
	if c.apiKey == "" {
		return nil, apperr.Configuration("anthropic API key is not set (PICTUREBOOK_LLM_API_KEY)")
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	system, turns := splitSystem(messages)

	var reply anthropicReply
	err := c.rest.post(ctx, "/v1/messages", anthropicRequest{
		Model:       pickModel(opts.Model, c.model),
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    turns,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
	}, &reply)
	if err != nil {
		return nil, err
	}

	return &ChatResponse{
		Message: Message{Role: RoleAssistant, Content: reply.text()},
		Usage: Usage{
			InputTokens:  reply.Usage.InputTokens,
			OutputTokens: reply.Usage.OutputTokens,
		},
	}, nil
}
