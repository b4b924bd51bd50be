// Package vision talks to the Azure Computer Vision services: object
// detection on generated illustrations and text extraction from page photos.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jguan/picturebook/pkg/apperr"
)

const detectTimeout = 30 * time.Second

// BoundingBox is normalized to the image size (0..1).
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Detection struct {
	Label       string      `json:"name"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"boundingBox"`
}

// Detector finds objects in raw image bytes.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]Detection, error)
}

// CustomVisionDetector calls a Custom Vision object detection prediction URL.
type CustomVisionDetector struct {
	predictionURL string
	predictionKey string
	httpClient    *http.Client
}

func NewCustomVisionDetector(predictionURL, predictionKey string) *CustomVisionDetector {
	return &CustomVisionDetector{
		predictionURL: predictionURL,
		predictionKey: predictionKey,
		httpClient:    &http.Client{Timeout: detectTimeout},
	}
}

type predictionResponse struct {
	Predictions []struct {
		TagName     string  `json:"tagName"`
		Probability float64 `json:"probability"`
		BoundingBox *struct {
			Left   float64 `json:"left"`
			Top    float64 `json:"top"`
			Width  float64 `json:"width"`
			Height float64 `json:"height"`
		} `json:"boundingBox"`
	} `json:"predictions"`
}

func (d *CustomVisionDetector) Detect(ctx context.Context, image []byte) ([]Detection, error) {
	if d.predictionURL == "" || d.predictionKey == "" {
		return nil, apperr.Configuration("AZURE_CV_PREDICTION_URL or AZURE_CV_PREDICTION_KEY is not set")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.predictionURL, bytes.NewReader(image))
	if err != nil {
		return nil, apperr.Configuration("invalid prediction URL: %v", err)
	}
	req.Header.Set("Prediction-Key", d.predictionKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Upstream("custom-vision", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Upstream("custom-vision", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.UpstreamStatus("custom-vision", resp.StatusCode, string(data))
	}

	var parsed predictionResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, apperr.Upstream("custom-vision", fmt.Errorf("decode response: %w", err))
	}

	detections := make([]Detection, 0, len(parsed.Predictions))
	for _, p := range parsed.Predictions {
		det := Detection{Label: p.TagName, Confidence: p.Probability}
		if p.BoundingBox != nil {
			det.BoundingBox = BoundingBox(*p.BoundingBox)
		}
		detections = append(detections, det)
	}
	return detections, nil
}
