package translate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguan/picturebook/pkg/config"
	"github.com/jguan/picturebook/pkg/llm/llmtest"
)

type countingTranslator struct {
	calls  atomic.Int32
	result map[string]string
	err    error
}

func (c *countingTranslator) Translate(_ context.Context, text, _, _ string) (string, error) {
	c.calls.Add(1)
	if c.err != nil {
		return "", c.err
	}
	return c.result[text], nil
}

func TestCachedTranslator_CachesSuccess(t *testing.T) {
	provider := &countingTranslator{result: map[string]string{"fox": "여우"}}
	tr := NewCachedTranslator(provider, "en", "ko", time.Second)
	ctx := context.Background()

	assert.Equal(t, "여우", tr.Translate(ctx, "fox"))
	assert.Equal(t, "여우", tr.Translate(ctx, "fox"))
	assert.Equal(t, int32(1), provider.calls.Load())
	assert.Equal(t, 1, tr.CacheSize())
}

func TestCachedTranslator_EmptyLabel(t *testing.T) {
	provider := &countingTranslator{}
	tr := NewCachedTranslator(provider, "en", "ko", time.Second)

	assert.Equal(t, "", tr.Translate(context.Background(), ""))
	assert.Equal(t, int32(0), provider.calls.Load())
}

func TestCachedTranslator_FallbackNotCached(t *testing.T) {
	provider := &countingTranslator{err: errors.New("quota exceeded")}
	tr := NewCachedTranslator(provider, "en", "ko", time.Second)
	ctx := context.Background()

	assert.Equal(t, "duck", tr.Translate(ctx, "duck"))
	assert.Equal(t, 0, tr.CacheSize())

	// Provider recovers; the next call retries instead of serving the fallback.
	provider.err = nil
	provider.result = map[string]string{"duck": "오리"}
	assert.Equal(t, "오리", tr.Translate(ctx, "duck"))
	assert.Equal(t, int32(2), provider.calls.Load())
}

func TestCachedTranslator_EmptyResultFallsBack(t *testing.T) {
	provider := &countingTranslator{result: map[string]string{"tree": "   "}}
	tr := NewCachedTranslator(provider, "en", "ko", time.Second)

	assert.Equal(t, "tree", tr.Translate(context.Background(), "tree"))
}

func TestCachedTranslator_CaseSensitive(t *testing.T) {
	provider := &countingTranslator{result: map[string]string{"Fox": "여우", "fox": "여우"}}
	tr := NewCachedTranslator(provider, "en", "ko", time.Second)
	ctx := context.Background()

	tr.Translate(ctx, "Fox")
	tr.Translate(ctx, "fox")
	assert.Equal(t, int32(2), provider.calls.Load())
}

func TestCachedTranslator_Concurrent(t *testing.T) {
	provider := &countingTranslator{result: map[string]string{"cat": "고양이"}}
	tr := NewCachedTranslator(provider, "en", "ko", time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "고양이", tr.Translate(context.Background(), "cat"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, tr.CacheSize())
}

func TestGoogleTranslator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/translate_a/single", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "gtx", q.Get("client"))
		assert.Equal(t, "en", q.Get("sl"))
		assert.Equal(t, "ko", q.Get("tl"))
		assert.Equal(t, "t", q.Get("dt"))
		assert.Equal(t, "baby duck", q.Get("q"))
		_, _ = w.Write([]byte(`[[["아기 ","baby ",null,null,10],["오리","duck",null,null,10]],null,"en"]`))
	}))
	defer server.Close()

	g := NewGoogleTranslator(server.URL)
	got, err := g.Translate(context.Background(), "baby duck", "en", "ko")
	require.NoError(t, err)
	assert.Equal(t, "아기 오리", got)
}

func TestGoogleTranslator_Errors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		_, err := NewGoogleTranslator(server.URL).Translate(context.Background(), "fox", "en", "ko")
		assert.Error(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := parseGTXResponse([]byte(`{"not":"an array"}`))
		assert.Error(t, err)

		_, err = parseGTXResponse([]byte(`[null]`))
		assert.Error(t, err)
	})
}

func TestLLMTranslator(t *testing.T) {
	fake := &llmtest.Fake{Reply: "여우.\nThis means fox."}
	tr := NewLLMTranslator(fake, "Korean")

	got, err := tr.Translate(context.Background(), "fox", "en", "ko")
	require.NoError(t, err)
	assert.Equal(t, "여우", got)
	assert.Contains(t, fake.LastSystem(), "Korean")
	assert.Equal(t, "fox", fake.LastUser())
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.TranslateConfig{Provider: "google", Source: "en", Target: "ko", TimeoutD: time.Second}
	tr, err := NewFromConfig(cfg, "Korean", nil)
	require.NoError(t, err)
	assert.Equal(t, "ko", tr.Target())

	cfg.Provider = "llm"
	_, err = NewFromConfig(cfg, "Korean", nil)
	assert.Error(t, err)

	tr, err = NewFromConfig(cfg, "Korean", &llmtest.Fake{Reply: "여우"})
	require.NoError(t, err)
	assert.Equal(t, "여우", tr.Translate(context.Background(), "fox"))

	cfg.Provider = "deepl"
	_, err = NewFromConfig(cfg, "Korean", nil)
	assert.Error(t, err)
}
