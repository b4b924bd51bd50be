package cli

import (
	"fmt"
	"strings"

	"github.com/jguan/picturebook/pkg/diffusion"
	"github.com/jguan/picturebook/pkg/studio"
	"github.com/jguan/picturebook/pkg/vision"
)

func detectionTable(dets []vision.Detection) table {
	rows := make([][]string, 0, len(dets))
	for _, d := range dets {
		b := d.BoundingBox
		rows = append(rows, []string{
			d.Label,
			fmt.Sprintf("%.2f", d.Confidence),
			fmt.Sprintf("%.2f,%.2f %.2fx%.2f", b.Left, b.Top, b.Width, b.Height),
		})
	}
	return table{
		value:  dets,
		header: []string{"NAME", "CONFIDENCE", "BOX"},
		rows:   rows,
		empty:  "No objects detected",
	}
}

func imageTable(ref *diffusion.ImageRef) table {
	return table{value: ref, rows: [][]string{
		{"URL", ref.URLPath},
		{"FILE", ref.FilePath},
	}}
}

// pageTable shows one row per stage, with the detections folded into a
// single line of labels.
func pageTable(r *studio.PageResult) table {
	labels := make([]string, 0, len(r.Detections))
	for _, d := range r.Detections {
		labels = append(labels, fmt.Sprintf("%s (%.0f%%)", d.Label, d.Confidence*100))
	}

	rows := [][]string{
		{"TEXT", oneLine(r.OCRText)},
		{"PROMPT", oneLine(r.Prompt)},
		{"IMAGE", r.ImageURL},
		{"OBJECTS", strings.Join(labels, ", ")},
	}
	if r.Questions != "" {
		rows = append(rows, []string{"QUESTIONS", oneLine(r.Questions)})
	}
	return table{value: r, rows: rows}
}

// oneLine collapses runs of whitespace, newlines included, so text fits a cell.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
