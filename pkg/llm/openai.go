package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/jguan/picturebook/pkg/apperr"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAIClient speaks the chat completions API, which most self-hosted
// servers (vLLM, llama.cpp, LM Studio) also implement.
type OpenAIClient struct {
	rest   restClient
	apiKey string
	model  string
}

func NewOpenAIClient(model, apiKey, baseURL string) *OpenAIClient {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIClient{
		rest:   newRESTClient("openai", baseURL, map[string]string{"Authorization": "Bearer " + apiKey}),
		apiKey: apiKey,
		model:  pickModel(model, defaultOpenAIModel),
	}
}

func (c *OpenAIClient) Name() string      { return "openai" }
func (c *OpenAIClient) ModelName() string { return c.model }

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
}

type completionReply struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (r *completionReply) errorMessage() string {
	if r.Error == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", r.Error.Type, r.Error.Message)
}

func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error) {
	if c.apiKey == "" {
		return nil, apperr.Configuration("openai API key is not set (PICTUREBOOK_LLM_API_KEY)")
	}

	var reply completionReply
	err := c.rest.post(ctx, "/chat/completions", completionRequest{
		Model:       pickModel(opts.Model, c.model),
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
	}, &reply)
	if err != nil {
		return nil, err
	}
	if len(reply.Choices) == 0 {
		return nil, apperr.Upstream("openai", errors.New("reply has no choices"))
	}

	return &ChatResponse{
		Message: Message{Role: RoleAssistant, Content: reply.Choices[0].Message.Content},
		Usage: Usage{
			InputTokens:  reply.Usage.PromptTokens,
			OutputTokens: reply.Usage.CompletionTokens,
		},
	}, nil
}
