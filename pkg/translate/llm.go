package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/jguan/picturebook/pkg/llm"
)

// LLMTranslator asks a language model for a one-word translation.
type LLMTranslator struct {
	client       llm.Client
	languageName string
}

func NewLLMTranslator(client llm.Client, languageName string) *LLMTranslator {
	return &LLMTranslator{client: client, languageName: languageName}
}

func (t *LLMTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	language := t.languageName
	if language == "" {
		language = target
	}

	messages := []llm.Message{
		{
			Role: llm.RoleSystem,
			Content: fmt.Sprintf("Translate the object label from %s into %s as a child would say it. "+
				"Reply with the translated noun only, no punctuation or explanation.", source, language),
		},
		{Role: llm.RoleUser, Content: text},
	}

	resp, err := t.client.Chat(ctx, messages, llm.ChatOptions{MaxTokens: 32})
	if err != nil {
		return "", err
	}

	// Models sometimes add a trailing period or a second line.
	out := strings.TrimSpace(resp.Text())
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	}
	return strings.TrimRight(out, "."), nil
}
