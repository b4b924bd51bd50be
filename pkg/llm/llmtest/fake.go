// Package llmtest provides an in-memory llm.Client for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/jguan/picturebook/pkg/llm"
)

// Fake records every call and answers with Reply, or with the result of
// Respond when set. Err, when non-nil, is returned instead.
type Fake struct {
	Reply   string
	Err     error
	Respond func(messages []llm.Message) string

	mu    sync.Mutex
	calls []Call
}

type Call struct {
	Messages []llm.Message
	Options  llm.ChatOptions
}

// Echo answers with the content of the last user message.
func Echo() *Fake {
	return &Fake{Respond: func(messages []llm.Message) string {
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == llm.RoleUser {
				return messages[i].Content
			}
		}
		return ""
	}}
}

func (f *Fake) Chat(_ context.Context, messages []llm.Message, opts llm.ChatOptions) (*llm.ChatResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Messages: append([]llm.Message(nil), messages...), Options: opts})
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	reply := f.Reply
	if f.Respond != nil {
		reply = f.Respond(messages)
	}
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: reply}}, nil
}

func (f *Fake) Name() string      { return "fake" }
func (f *Fake) ModelName() string { return "fake-model" }

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// LastSystem returns the system content of the most recent call.
func (f *Fake) LastSystem() string {
	return f.lastByRole(llm.RoleSystem)
}

// LastUser returns the user content of the most recent call.
func (f *Fake) LastUser() string {
	return f.lastByRole(llm.RoleUser)
}

func (f *Fake) lastByRole(role string) string {
	calls := f.Calls()
	if len(calls) == 0 {
		return ""
	}
	var parts []string
	for _, m := range calls[len(calls)-1].Messages {
		if m.Role == role {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}
