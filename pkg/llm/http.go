package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jguan/picturebook/pkg/apperr"
)

// maxReplyBytes bounds how much of a provider reply is read.
const maxReplyBytes = 4 << 20

// providerReply is a decoded response body that may carry the provider's own
// error object instead of a result.
type providerReply interface {
	errorMessage() string
}

// restClient is the JSON-over-HTTP transport shared by the hosted providers.
type restClient struct {
	service string
	baseURL string
	headers http.Header
	http    *http.Client
}

func newRESTClient(service, baseURL string, headers map[string]string) restClient {
	h := make(http.Header, len(headers)+1)
	h.Set("Content-Type", "application/json")
	for k, v := range headers {
		h.Set(k, v)
	}
	return restClient{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: h,
		http:    &http.Client{},
	}
}

// post sends body to path and decodes the reply into out. A provider error
// object in the body is preferred over the bare status code, since it says
// what went wrong.
func (c restClient) post(ctx context.Context, path string, body any, out providerReply) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", c.service, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", c.service, err)
	}
	req.Header = c.headers.Clone()

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Upstream(c.service, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return apperr.Upstream(c.service, fmt.Errorf("read response: %w", err))
	}

	if err := json.Unmarshal(data, out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return apperr.UpstreamStatus(c.service, resp.StatusCode, string(data))
		}
		return apperr.Upstream(c.service, fmt.Errorf("decode response: %w", err))
	}
	if msg := out.errorMessage(); msg != "" {
		return apperr.Upstream(c.service, errors.New(msg))
	}
	if resp.StatusCode != http.StatusOK {
		return apperr.UpstreamStatus(c.service, resp.StatusCode, string(data))
	}
	return nil
}
