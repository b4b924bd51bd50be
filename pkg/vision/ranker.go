package vision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jguan/picturebook/pkg/apperr"
	"github.com/jguan/picturebook/pkg/infra/logger"
)

// DefaultTopK is applied by callers that do not pick a limit.
const DefaultTopK = 3

// StaticURLPrefix is the web path under which the static root is served.
const StaticURLPrefix = "/static/"

// LabelTranslator localizes a detection label. It must not fail; the
// original label is its fallback.
type LabelTranslator interface {
	Translate(ctx context.Context, label string) string
}

// Ranker resolves a served image back to disk, runs detection on it and
// keeps the most confident, translated results.
type Ranker struct {
	detector   Detector
	translator LabelTranslator
	staticDir  string
}

func NewRanker(detector Detector, translator LabelTranslator, staticDir string) *Ranker {
	return &Ranker{detector: detector, translator: translator, staticDir: staticDir}
}

// RankDetections returns at most topK detections for the image at imageRef,
// ordered by confidence (ties keep detector order), with translated labels.
func (r *Ranker) RankDetections(ctx context.Context, imageRef string, topK int) ([]Detection, error) {
	path, err := r.ResolvePath(imageRef)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFound("image not found for detection: %s", imageRef)
		}
		return nil, fmt.Errorf("read image: %w", err)
	}

	detections, err := r.detector.Detect(ctx, data)
	if err != nil {
		return nil, err
	}

	ranked := TopK(detections, topK)
	for i := range ranked {
		ranked[i].Label = r.translator.Translate(ctx, ranked[i].Label)
	}

	logger.WithContext(ctx).Debug("detections ranked",
		"image", imageRef, "found", len(detections), "kept", len(ranked))
	return ranked, nil
}

// TopK returns a new slice with the k most confident detections.
// k <= 0 yields an empty list. The input is not modified.
func TopK(detections []Detection, k int) []Detection {
	if k <= 0 {
		return []Detection{}
	}
	sorted := make([]Detection, len(detections))
	copy(sorted, detections)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

// ResolvePath maps a web reference such as /static/generated/x.png to a
// file under the static root. References escaping the root are rejected.
func (r *Ranker) ResolvePath(imageRef string) (string, error) {
	rel := strings.TrimLeft(imageRef, "/")
	rel = strings.TrimPrefix(rel, strings.Trim(StaticURLPrefix, "/")+"/")
	rel = filepath.FromSlash(rel)

	if rel == "" || !filepath.IsLocal(rel) {
		return "", apperr.NotFound("image not found for detection: %s", imageRef)
	}
	return filepath.Join(r.staticDir, rel), nil
}
