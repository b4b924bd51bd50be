// Package imageio decodes uploaded and generated images (png, jpeg, gif,
// webp), bounds their size and writes them back out.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// MaxPixels bounds the decoded size of any image. A small compressed file
// can declare dimensions that need gigabytes once decoded.
const MaxPixels = 50_000_000

// ErrTooLarge is returned by Decode for images over MaxPixels.
var ErrTooLarge = errors.New("image too large")

// Decode decodes data using the registered decoders, falling back to the
// libwebp decoder for webp variants the pure-Go decoder rejects. The header
// is checked against MaxPixels before any pixels are allocated.
func Decode(data []byte) (image.Image, string, error) {
	if err := checkSize(data); err != nil {
		return nil, "", err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err == nil {
		return img, format, nil
	}

	if wimg, werr := webp.Decode(bytes.NewReader(data)); werr == nil {
		return wimg, "webp", nil
	}

	return nil, "", fmt.Errorf("decode image: %w", err)
}

// checkSize reads only the image header. Headers neither decoder can parse
// are left for the full decode to reject.
func checkSize(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if cfg, err = webp.DecodeConfig(bytes.NewReader(data)); err != nil {
			return nil
		}
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}
	return nil
}

// Fit scales img down so that its longest side is at most maxDim.
// Images already within bounds are returned unchanged.
func Fit(img image.Image, maxDim int) image.Image {
	if maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}
	if w >= h {
		return imaging.Resize(img, maxDim, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxDim, imaging.Lanczos)
}

// EncodeJPEG encodes img as JPEG at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// SavePNG writes img to path as PNG. The format follows the file extension.
func SavePNG(img image.Image, path string) error {
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("save image: %w", err)
	}
	return nil
}
