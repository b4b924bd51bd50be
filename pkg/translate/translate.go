// Package translate localizes short English labels (detected object names)
// into the reader's language, memoizing successful lookups.
package translate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/jguan/picturebook/pkg/config"
	"github.com/jguan/picturebook/pkg/infra/logger"
	"github.com/jguan/picturebook/pkg/llm"
)

const DefaultTimeout = 10 * time.Second

// Translator is an external translation provider.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// CachedTranslator returns localized labels, falling back to the input label
// whenever the provider fails. Only successful lookups are remembered, so a
// transient failure is retried on the next call.
type CachedTranslator struct {
	provider Translator
	source   string
	target   string
	timeout  time.Duration
	cache    *expirable.LRU[string, string]
}

func NewCachedTranslator(provider Translator, source, target string, timeout time.Duration) *CachedTranslator {
	if source == "" {
		source = "en"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	// The label vocabulary is small, so the cache is unbounded and never expires.
	return &CachedTranslator{
		provider: provider,
		source:   source,
		target:   target,
		timeout:  timeout,
		cache:    expirable.NewLRU[string, string](0, nil, 0),
	}
}

// Translate never fails: the original label is the fallback.
func (t *CachedTranslator) Translate(ctx context.Context, label string) string {
	if label == "" {
		return label
	}

	if v, ok := t.cache.Get(label); ok {
		return v
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	translated, err := t.provider.Translate(callCtx, label, t.source, t.target)
	translated = strings.TrimSpace(translated)
	if err != nil || translated == "" {
		logger.WithContext(ctx).Debug("label translation failed, using original",
			"label", label, "target", t.target, "error", err)
		return label
	}

	t.cache.Add(label, translated)
	return translated
}

// Target returns the target language code.
func (t *CachedTranslator) Target() string { return t.target }

// CacheSize reports how many labels are memoized.
func (t *CachedTranslator) CacheSize() int {
	return t.cache.Len()
}

// NewFromConfig builds the provider selected by cfg and wraps it in a cache.
// client is only used by the "llm" provider and may be nil otherwise.
func NewFromConfig(cfg config.TranslateConfig, languageName string, client llm.Client) (*CachedTranslator, error) {
	var provider Translator
	switch strings.ToLower(cfg.Provider) {
	case "", "google":
		provider = NewGoogleTranslator("")
	case "llm":
		if client == nil {
			return nil, fmt.Errorf("translate provider llm requires a language model client")
		}
		provider = NewLLMTranslator(client, languageName)
	default:
		return nil, fmt.Errorf("unknown translate provider: %s", cfg.Provider)
	}
	return NewCachedTranslator(provider, cfg.Source, cfg.Target, cfg.TimeoutD), nil
}
