// Package huggingface speaks the Hugging Face hub and inference protocols.
// The same text-to-image protocol is served by the self-hosted diffusers
// container, so the client is shared by both diffusion backends.
package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultHubURL       = "https://huggingface.co"
	DefaultInferenceURL = "https://api-inference.huggingface.co"

	PipelineTextToImage = "text-to-image"
)

type Client struct {
	hubURL       string
	inferenceURL string
	token        string
	httpClient   *http.Client
}

type Option func(*Client)

// WithHubURL overrides the hub API base used for model card lookups.
func WithHubURL(u string) Option {
	return func(c *Client) { c.hubURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient returns a client for the inference server at inferenceURL.
// Generation has no client-side timeout; callers bound it with their context.
func NewClient(inferenceURL, token string, opts ...Option) *Client {
	if inferenceURL == "" {
		inferenceURL = DefaultInferenceURL
	}
	c := &Client{
		hubURL:       DefaultHubURL,
		inferenceURL: strings.TrimRight(inferenceURL, "/"),
		token:        token,
		httpClient:   &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) InferenceURL() string { return c.inferenceURL }

type ModelInfo struct {
	ModelID     string   `json:"id"`
	Author      string   `json:"author"`
	SHA         string   `json:"sha"`
	Private     bool     `json:"private"`
	Disabled    bool     `json:"disabled"`
	PipelineTag string   `json:"pipeline_tag"`
	Tags        []string `json:"tags"`
	LibraryName string   `json:"library_name"`
}

type ErrorResponse struct {
	Error   any    `json:"error"`
	Message string `json:"message"`
}

// TextToImageParameters mirrors the diffusers call arguments accepted by the
// inference API. Zero values are omitted so the server applies its defaults.
type TextToImageParameters struct {
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
	GuidanceScale     float64 `json:"guidance_scale,omitempty"`
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
	Seed              *int64  `json:"seed,omitempty"`
}

type textToImageRequest struct {
	Inputs     string                `json:"inputs"`
	Parameters TextToImageParameters `json:"parameters"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("huggingface error: status %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, fullURL string, reqBody any, accept string) ([]byte, string, error) {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return nil, "", fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, "", &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func errorMessage(data []byte) string {
	var errResp ErrorResponse
	if json.Unmarshal(data, &errResp) == nil {
		switch v := errResp.Error.(type) {
		case string:
			if v != "" {
				return v
			}
		case []any:
			parts := make([]string, 0, len(v))
			for _, p := range v {
				parts = append(parts, fmt.Sprint(p))
			}
			return strings.Join(parts, "; ")
		}
		if errResp.Message != "" {
			return errResp.Message
		}
	}
	msg := string(data)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}

// GetModelInfo fetches the model card summary from the hub API.
func (c *Client) GetModelInfo(ctx context.Context, repoID string) (*ModelInfo, error) {
	data, _, err := c.do(ctx, http.MethodGet, c.hubURL+"/api/models/"+repoID, nil, "application/json")
	if err != nil {
		return nil, fmt.Errorf("get model info: %w", err)
	}
	var info ModelInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("unmarshal model info: %w", err)
	}
	return &info, nil
}

// TextToImage runs one generation and returns the encoded image bytes.
func (c *Client) TextToImage(ctx context.Context, model, prompt string, params TextToImageParameters) ([]byte, error) {
	req := textToImageRequest{Inputs: prompt, Parameters: params}
	data, contentType, err := c.do(ctx, http.MethodPost, c.inferenceURL+"/models/"+model, req, "image/png")
	if err != nil {
		return nil, fmt.Errorf("text to image: %w", err)
	}
	if strings.HasPrefix(contentType, "application/json") {
		return nil, fmt.Errorf("text to image: expected image, got %s", errorMessage(data))
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("text to image: empty response")
	}
	return data, nil
}

// Healthy reports whether GET {inferenceURL}/health answers 2xx.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, _, err := c.do(ctx, http.MethodGet, c.inferenceURL+"/health", nil, "")
	return err == nil
}

// SetOptions posts backend toggles to a self-hosted server.
func (c *Client) SetOptions(ctx context.Context, options map[string]any) error {
	if _, _, err := c.do(ctx, http.MethodPost, c.inferenceURL+"/options", options, "application/json"); err != nil {
		return fmt.Errorf("set options: %w", err)
	}
	return nil
}
