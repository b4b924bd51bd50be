package llm

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jguan/picturebook/pkg/apperr"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultGeminiModel   = "gemini-2.5-flash"
)

// GeminiClient implements Client against the Gemini generateContent REST API.
type GeminiClient struct {
	rest   restClient
	apiKey string
	model  string
}

// NewGeminiClient defaults baseURL to the public Generative Language endpoint.
func NewGeminiClient(model, apiKey, baseURL string) *GeminiClient {
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiClient{
		rest:   newRESTClient("gemini", baseURL, map[string]string{"x-goog-api-key": apiKey}),
		apiKey: apiKey,
		model:  pickModel(model, defaultGeminiModel),
	}
}

func (c *GeminiClient) Name() string      { return "gemini" }
func (c *GeminiClient) ModelName() string { return c.model }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (r *geminiResponse) errorMessage() string {
	if r.Error == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", r.Error.Status, r.Error.Message)
}

func (c *GeminiClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error) {
	if c.apiKey == "" {
		return nil, apperr.Configuration("gemini API key is not set (GEMINI_API_KEY)")
	}

	system, turns := splitSystem(messages)

	req := geminiRequest{Contents: make([]geminiContent, 0, len(turns))}
	if system != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	for _, m := range turns {
		req.Contents = append(req.Contents, messageToGemini(m))
	}
	if opts.MaxTokens > 0 || opts.Temperature > 0 || opts.TopP > 0 {
		req.GenerationConfig = &geminiGenerationConfig{
			MaxOutputTokens: opts.MaxTokens,
			Temperature:     opts.Temperature,
			TopP:            opts.TopP,
		}
	}

	path := "/v1beta/models/" + url.PathEscape(pickModel(opts.Model, c.model)) + ":generateContent"
	var apiResp geminiResponse
	if err := c.rest.post(ctx, path, req, &apiResp); err != nil {
		return nil, err
	}

	return geminiResponseToChatResponse(&apiResp), nil
}

// messageToGemini maps roles onto Gemini's "user"/"model" pair.
func messageToGemini(m Message) geminiContent {
	role := "user"
	if m.Role == RoleAssistant {
		role = "model"
	}
	return geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}}
}

// geminiResponseToChatResponse concatenates the text parts of the first candidate.
// A response without candidates (e.g. blocked by safety filters) yields empty text.
func geminiResponseToChatResponse(r *geminiResponse) *ChatResponse {
	var sb strings.Builder
	if len(r.Candidates) > 0 {
		for _, p := range r.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	return &ChatResponse{
		Message: Message{Role: RoleAssistant, Content: sb.String()},
		Usage: Usage{
			InputTokens:  r.UsageMetadata.PromptTokenCount,
			OutputTokens: r.UsageMetadata.CandidatesTokenCount,
		},
	}
}
