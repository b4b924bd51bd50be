package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/jguan/picturebook/pkg/apperr"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaClient implements Client for a local Ollama instance.
type OllamaClient struct {
	model  string
	client *api.Client
}

// NewOllamaClient creates a new Ollama client.
// baseURL defaults to http://localhost:11434 if empty; any path is ignored.
// A nil hc uses http.DefaultClient.
func NewOllamaClient(model, baseURL string, hc *http.Client) (*OllamaClient, error) {
	if model == "" {
		model = "llama3.2"
	}
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, apperr.Configuration("invalid ollama URL %q: %v", baseURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, apperr.Configuration("invalid ollama URL %q: scheme and host are required", baseURL)
	}

	if hc == nil {
		hc = http.DefaultClient
	}
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	return &OllamaClient{
		model:  model,
		client: api.NewClient(base, hc),
	}, nil
}

func (c *OllamaClient) Name() string      { return "ollama" }
func (c *OllamaClient) ModelName() string { return c.model }

func (c *OllamaClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error) {
	apiMessages := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		apiMessages = append(apiMessages, api.Message{Role: m.Role, Content: m.Content})
	}

	options := map[string]any{}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.TopP > 0 {
		options["top_p"] = opts.TopP
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model:    pickModel(opts.Model, c.model),
		Messages: apiMessages,
		Stream:   &streamFalse,
		Options:  options,
	}

	var last api.ChatResponse
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		last = resp
		return nil
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return nil, apperr.UpstreamStatus("ollama", statusErr.StatusCode, statusErr.ErrorMessage)
		}
		return nil, apperr.Upstream("ollama", fmt.Errorf("chat: %w", err))
	}

	return &ChatResponse{
		Message: Message{Role: RoleAssistant, Content: last.Message.Content},
		Usage: Usage{
			InputTokens:  last.PromptEvalCount,
			OutputTokens: last.EvalCount,
		},
	}, nil
}
