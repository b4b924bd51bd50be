package llm

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jguan/picturebook/pkg/config"
)

// New builds the client selected by cfg.Provider. Credentials are not checked
// here; a client without a key reports a configuration error on first use.
func New(cfg config.LLMConfig) (Client, error) {
	httpClient := &http.Client{Timeout: cfg.RequestTimeoutD}

	switch strings.ToLower(cfg.Provider) {
	case "", "gemini":
		c := NewGeminiClient(cfg.Model, cfg.APIKey, cfg.BaseURL)
		c.rest.http = httpClient
		return c, nil
	case "openai":
		c := NewOpenAIClient(cfg.Model, cfg.APIKey, cfg.BaseURL)
		c.rest.http = httpClient
		return c, nil
	case "anthropic":
		c := NewAnthropicClient(cfg.Model, cfg.APIKey, cfg.BaseURL)
		c.rest.http = httpClient
		return c, nil
	case "ollama":
		return NewOllamaClient(cfg.Model, cfg.BaseURL, httpClient)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
