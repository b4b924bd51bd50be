// Package llm provides language model client abstractions used by the prompt,
// chat and translation stages.
package llm

import "context"

// Client abstracts communication with different LLM providers.
type Client interface {
	// Chat sends a conversation to the model and returns its reply.
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error)
	// Name returns the provider name (e.g. "gemini", "openai", "ollama").
	Name() string
	// ModelName returns the default model identifier.
	ModelName() string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions holds optional parameters for a Chat call.
type ChatOptions struct {
	// Model overrides the client's default model for this call.
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
}

// Usage holds token consumption data from a Chat call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatResponse holds the model's reply to a Chat call.
type ChatResponse struct {
	Message Message `json:"message"`
	Usage   Usage   `json:"usage"`
}

// Text returns the reply content, or "" for a nil response.
func (r *ChatResponse) Text() string {
	if r == nil {
		return ""
	}
	return r.Message.Content
}

func pickModel(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

// splitSystem separates system instructions from the conversation turns.
// Multiple system messages are joined with a blank line.
func splitSystem(messages []Message) (string, []Message) {
	var system string
	turns := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		turns = append(turns, m)
	}
	return system, turns
}
