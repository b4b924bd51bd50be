package vision

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguan/picturebook/pkg/apperr"
	"github.com/jguan/picturebook/pkg/infra/imageio"
)

func newTestReadClient(url string) *ReadClient {
	c := NewReadClient(url, "ocr-key")
	c.pollInterval = 5 * time.Millisecond
	c.timeout = 2 * time.Second
	return c
}

func TestReadClient_ExtractText(t *testing.T) {
	var polls atomic.Int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ocr-key", r.Header.Get("Ocp-Apim-Subscription-Key"))

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/vision/v3.2/read/analyze":
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, []byte("page-photo"), body)
			w.Header().Set("Operation-Location", server.URL+"/vision/v3.2/read/analyzeResults/op-1")
			w.WriteHeader(http.StatusAccepted)
		case r.Method == http.MethodGet && r.URL.Path == "/vision/v3.2/read/analyzeResults/op-1":
			if polls.Add(1) < 2 {
				_, _ = w.Write([]byte(`{"status": "running"}`))
				return
			}
			_, _ = w.Write([]byte(`{
				"status": "succeeded",
				"analyzeResult": {"readResults": [
					{"page": 1, "lines": [{"text": "A small fox"}, {"text": "ran into the forest."}]}
				]}
			}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	text, err := newTestReadClient(server.URL).ExtractText(context.Background(), []byte("page-photo"))
	require.NoError(t, err)
	assert.Equal(t, "A small fox\nran into the forest.", text)
	assert.Equal(t, int32(2), polls.Load())
}

func TestReadClient_Failed(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set("Operation-Location", server.URL+"/op")
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_, _ = w.Write([]byte(`{"status": "failed"}`))
	}))
	defer server.Close()

	_, err := newTestReadClient(server.URL).ExtractText(context.Background(), []byte("x"))
	assert.True(t, errors.Is(err, apperr.ErrUpstream))
}

func TestReadClient_SubmitRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"InvalidImageFormat"}}`))
	}))
	defer server.Close()

	_, err := newTestReadClient(server.URL).ExtractText(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrUpstream))
	assert.Contains(t, err.Error(), "InvalidImageFormat")
}

func TestReadClient_Timeout(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set("Operation-Location", server.URL+"/op")
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_, _ = w.Write([]byte(`{"status": "running"}`))
	}))
	defer server.Close()

	c := newTestReadClient(server.URL)
	c.timeout = 50 * time.Millisecond

	_, err := c.ExtractText(context.Background(), []byte("x"))
	assert.True(t, errors.Is(err, apperr.ErrUpstream))
}

func TestReadClient_NotConfigured(t *testing.T) {
	_, err := NewReadClient("", "").ExtractText(context.Background(), []byte("x"))
	assert.True(t, errors.Is(err, apperr.ErrConfiguration))
}

func TestReadClient_EmptyImage(t *testing.T) {
	_, err := NewReadClient("http://example.invalid", "k").ExtractText(context.Background(), nil)
	assert.True(t, errors.Is(err, apperr.ErrInvalidRequest))
}

func TestPrepareForRead(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.NRGBA{R: 255, A: 255})

	t.Run("undecodable passes through", func(t *testing.T) {
		out, err := prepareForRead(context.Background(), []byte("raw"))
		require.NoError(t, err)
		assert.Equal(t, []byte("raw"), out)
	})

	t.Run("webp becomes jpeg", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, webp.Encode(&buf, img, &webp.Options{Lossless: true}))

		out, err := prepareForRead(context.Background(), buf.Bytes())
		require.NoError(t, err)
		_, format, err := imageio.Decode(out)
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
	})

	t.Run("small jpeg unchanged", func(t *testing.T) {
		data, err := imageio.EncodeJPEG(img, 90)
		require.NoError(t, err)
		out, err := prepareForRead(context.Background(), data)
		require.NoError(t, err)
		assert.Equal(t, data, out)
	})

	t.Run("oversized header rejected before decode", func(t *testing.T) {
		_, err := prepareForRead(context.Background(), pngHeader(16000, 16000))
		assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	})
}

// pngHeader returns a PNG signature and IHDR chunk declaring w x h, enough
// for image.DecodeConfig and nothing more.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth; color type 0 (grey)

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}
