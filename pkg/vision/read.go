package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jguan/picturebook/pkg/apperr"
	"github.com/jguan/picturebook/pkg/infra/imageio"
	"github.com/jguan/picturebook/pkg/infra/logger"
)

const (
	readMaxDimension = 4200
	readPollInterval = time.Second
	readTimeout      = 30 * time.Second
)

// ReadClient extracts printed text with the Computer Vision Read 3.2 API.
type ReadClient struct {
	endpoint     string
	key          string
	httpClient   *http.Client
	pollInterval time.Duration
	timeout      time.Duration
}

func NewReadClient(endpoint, key string) *ReadClient {
	return &ReadClient{
		endpoint:     strings.TrimRight(endpoint, "/"),
		key:          key,
		httpClient:   &http.Client{},
		pollInterval: readPollInterval,
		timeout:      readTimeout,
	}
}

type readOperation struct {
	Status        string `json:"status"`
	AnalyzeResult struct {
		ReadResults []struct {
			Page  int `json:"page"`
			Lines []struct {
				Text string `json:"text"`
			} `json:"lines"`
		} `json:"readResults"`
	} `json:"analyzeResult"`
}

// ExtractText returns the recognized lines of every page joined by newlines.
func (c *ReadClient) ExtractText(ctx context.Context, image []byte) (string, error) {
	if c.endpoint == "" || c.key == "" {
		return "", apperr.Configuration("AZURE_CV_ENDPOINT or AZURE_CV_KEY is not set")
	}
	if len(image) == 0 {
		return "", apperr.InvalidRequest("empty image")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := prepareForRead(ctx, image)
	if err != nil {
		return "", err
	}

	operationURL, err := c.submit(ctx, body)
	if err != nil {
		return "", err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		op, err := c.poll(ctx, operationURL)
		if err != nil {
			return "", err
		}

		switch strings.ToLower(op.Status) {
		case "succeeded":
			var lines []string
			for _, page := range op.AnalyzeResult.ReadResults {
				for _, line := range page.Lines {
					lines = append(lines, line.Text)
				}
			}
			return strings.Join(lines, "\n"), nil
		case "failed":
			return "", apperr.Upstream("computer-vision", fmt.Errorf("read operation failed"))
		}

		select {
		case <-ctx.Done():
			return "", apperr.Upstream("computer-vision", fmt.Errorf("read operation: %w", ctx.Err()))
		case <-ticker.C:
		}
	}
}

func (c *ReadClient) submit(ctx context.Context, image []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/vision/v3.2/read/analyze", bytes.NewReader(image))
	if err != nil {
		return "", apperr.Configuration("invalid OCR endpoint: %v", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.Upstream("computer-vision", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return "", apperr.UpstreamStatus("computer-vision", resp.StatusCode, string(body))
	}

	location := resp.Header.Get("Operation-Location")
	if location == "" {
		return "", apperr.Upstream("computer-vision", fmt.Errorf("missing Operation-Location header"))
	}
	return location, nil
}

func (c *ReadClient) poll(ctx context.Context, operationURL string) (*readOperation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, operationURL, nil)
	if err != nil {
		return nil, apperr.Upstream("computer-vision", fmt.Errorf("invalid operation URL: %w", err))
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Upstream("computer-vision", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Upstream("computer-vision", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.UpstreamStatus("computer-vision", resp.StatusCode, string(data))
	}

	var op readOperation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, apperr.Upstream("computer-vision", fmt.Errorf("decode response: %w", err))
	}
	return &op, nil
}

// prepareForRead re-encodes uploads the Read API would reject: webp input
// and images whose longest side exceeds its limit. Anything that fails to
// decode is sent unchanged and left for the service to judge. Images too
// large to decode safely are rejected.
func prepareForRead(ctx context.Context, data []byte) ([]byte, error) {
	img, format, err := imageio.Decode(data)
	if errors.Is(err, imageio.ErrTooLarge) {
		return nil, apperr.InvalidRequest("page image is too large: %v", err)
	}
	if err != nil {
		return data, nil
	}

	b := img.Bounds()
	oversized := b.Dx() > readMaxDimension || b.Dy() > readMaxDimension
	if !oversized && format != "webp" {
		return data, nil
	}

	out, err := imageio.EncodeJPEG(imageio.Fit(img, readMaxDimension), 90)
	if err != nil {
		logger.WithContext(ctx).Warn("re-encode OCR upload failed, sending original", "error", err)
		return data, nil
	}
	logger.WithContext(ctx).Debug("OCR upload re-encoded",
		"format", format, "width", b.Dx(), "height", b.Dy())
	return out, nil
}
