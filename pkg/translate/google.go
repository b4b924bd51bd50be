package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jguan/picturebook/pkg/apperr"
)

const defaultGoogleBaseURL = "https://translate.googleapis.com"

// GoogleTranslator calls the public gtx translate endpoint. It needs no key.
type GoogleTranslator struct {
	baseURL    string
	httpClient *http.Client
}

func NewGoogleTranslator(baseURL string) *GoogleTranslator {
	if baseURL == "" {
		baseURL = defaultGoogleBaseURL
	}
	return &GoogleTranslator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

func (g *GoogleTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	q := url.Values{}
	q.Set("client", "gtx")
	q.Set("sl", source)
	q.Set("tl", target)
	q.Set("dt", "t")
	q.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/translate_a/single?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", apperr.Upstream("translate", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Upstream("translate", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperr.UpstreamStatus("translate", resp.StatusCode, string(data))
	}

	return parseGTXResponse(data)
}

// parseGTXResponse concatenates the translated segments at [0][i][0].
func parseGTXResponse(data []byte) (string, error) {
	var root []any
	if err := json.Unmarshal(data, &root); err != nil {
		return "", apperr.Upstream("translate", fmt.Errorf("decode response: %w", err))
	}
	if len(root) == 0 {
		return "", apperr.Upstream("translate", fmt.Errorf("empty response"))
	}

	segments, ok := root[0].([]any)
	if !ok {
		return "", apperr.Upstream("translate", fmt.Errorf("unexpected response shape"))
	}

	var sb strings.Builder
	for _, seg := range segments {
		parts, ok := seg.([]any)
		if !ok || len(parts) == 0 {
			continue
		}
		if s, ok := parts[0].(string); ok {
			sb.WriteString(s)
		}
	}
	return sb.String(), nil
}
