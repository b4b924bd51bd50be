package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguan/picturebook/pkg/apperr"
	"github.com/jguan/picturebook/pkg/chat"
	"github.com/jguan/picturebook/pkg/diffusion"
	"github.com/jguan/picturebook/pkg/infra/hal"
	"github.com/jguan/picturebook/pkg/llm/llmtest"
	"github.com/jguan/picturebook/pkg/prompt"
	"github.com/jguan/picturebook/pkg/studio"
	"github.com/jguan/picturebook/pkg/vision"
)

type stubOCR struct{ text string }

func (s stubOCR) ExtractText(ctx context.Context, image []byte) (string, error) { return s.text, nil }

type stubDetector struct{}

func (stubDetector) Detect(ctx context.Context, image []byte) ([]vision.Detection, error) {
	return []vision.Detection{
		{Label: "tree", Confidence: 0.4},
		{Label: "fox", Confidence: 0.9},
		{Label: "sun", Confidence: 0.6},
		{Label: "bird", Confidence: 0.2},
	}, nil
}

type upperTranslator struct{}

func (upperTranslator) Translate(ctx context.Context, label string) string {
	return strings.ToUpper(label)
}

type stubBackend struct{}

func (stubBackend) Name() string { return "stub" }

func (stubBackend) Load(ctx context.Context, s diffusion.LoadSettings) (diffusion.Pipeline, error) {
	return stubBackend{}, nil
}

func (stubBackend) Generate(ctx context.Context, req diffusion.Request) ([][]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))); err != nil {
		return nil, err
	}
	return [][]byte{buf.Bytes()}, nil
}

func (stubBackend) Close(ctx context.Context) error { return nil }

type testEnv struct {
	server    *Server
	handler   http.Handler
	llm       *llmtest.Fake
	staticDir string
}

func newTestEnv(t *testing.T, mutate func(*ServerConfig)) *testEnv {
	t.Helper()
	staticDir := t.TempDir()
	fake := llmtest.Echo()

	loader := diffusion.NewLoader("org/model", stubBackend{},
		diffusion.WithDetect(func(context.Context) hal.Accelerators { return hal.Accelerators{} }))
	invoker := diffusion.NewInvoker(loader, diffusion.Storage{Dir: filepath.Join(staticDir, "generated")}, diffusion.Options{})

	svc := studio.New(studio.Deps{
		OCR:        stubOCR{text: "A small fox ran into the forest."},
		Prompts:    prompt.NewBuilder(fake, prompt.Options{}),
		Images:     invoker,
		Detections: vision.NewRanker(stubDetector{}, upperTranslator{}, staticDir),
		Companion:  chat.NewBuilder(fake, chat.Options{}),
	}, studio.Options{TopK: vision.DefaultTopK})

	cfg := ServerConfig{StaticDir: staticDir, Version: "test"}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := NewServer(svc, loader, cfg)
	return &testEnv{server: srv, handler: srv.Handler(), llm: fake, staticDir: staticDir}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", ContentTypeJSON)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postFile(t *testing.T, path string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if content != nil {
		fw, err := mw.CreateFormFile("file", "page.jpg")
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	pipeline := body["pipeline"].(map[string]any)
	assert.Equal(t, "uninitialized", pipeline["state"])
	assert.Equal(t, "org/model", pipeline["model"])
}

func TestOCR(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.postFile(t, "/api/ocr", []byte("jpeg bytes"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A small fox ran into the forest.", decode[map[string]string](t, rec)["text"])

	rec = env.postFile(t, "/api/ocr", nil, map[string]string{"other": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, apperr.CodeInvalidRequest, body.Error.Code)
}

func TestUploadLimit(t *testing.T) {
	env := newTestEnv(t, func(c *ServerConfig) { c.MaxUploadBytes = 1 << 20 })
	rec := env.postFile(t, "/api/ocr", bytes.Repeat([]byte("x"), 3<<20), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "upload exceeds 1 MB")
}

func TestPromptAndQuestions(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.postJSON(t, "/api/prompt", textRequest{Text: "A small fox"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, prompt.UserPrompt("A small fox"), decode[map[string]string](t, rec)["prompt"])

	rec = env.postJSON(t, "/api/questions", textRequest{Text: "A small fox"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[map[string]string](t, rec)["questions"])

	rec = env.postJSON(t, "/api/prompt", textRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/prompt", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImagesThenDetections(t *testing.T) {
	env := newTestEnv(t, nil)

	seed := int64(3)
	rec := env.postJSON(t, "/api/images", imageRequest{Prompt: "a fox", Seed: &seed})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ref := decode[diffusion.ImageRef](t, rec)
	assert.True(t, strings.HasPrefix(ref.URLPath, "/static/generated/"))
	_, err := os.Stat(ref.FilePath)
	require.NoError(t, err)

	// The generated file is served from the static root.
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, ref.URLPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.postJSON(t, "/api/detections", detectionRequest{ImageURL: ref.URLPath})
	require.Equal(t, http.StatusOK, rec.Code)
	dets := decode[map[string][]vision.Detection](t, rec)["detections"]
	require.Len(t, dets, 3)
	assert.Equal(t, "FOX", dets[0].Label)
	assert.Equal(t, "SUN", dets[1].Label)

	zero := 0
	rec = env.postJSON(t, "/api/detections", detectionRequest{ImageURL: ref.URLPath, TopK: &zero})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"detections":[]}`, rec.Body.String())

	rec = env.postJSON(t, "/api/detections", detectionRequest{ImageURL: "/static/generated/missing.png"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.postJSON(t, "/api/detections", detectionRequest{ImageURL: "/static/../../etc/passwd"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPages(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.postFile(t, "/api/pages", []byte("photo"), map[string]string{"topK": "2", "questions": "true"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[studio.PageResult](t, rec)
	assert.Equal(t, "A small fox ran into the forest.", result.OCRText)
	assert.Len(t, result.Detections, 2)
	assert.NotEmpty(t, result.Questions)

	rec = env.postFile(t, "/api/pages", []byte("photo"), map[string]string{"topK": "many"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	env.llm.Respond = nil
	env.llm.Reply = "What color was the fox?"

	rec := env.postJSON(t, "/api/chat/reply", chatRequest{
		Message: "I saw a fox",
		History: []chat.Turn{{Role: chat.RoleAssistant, Content: "Hi!"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "What color was the fox?", decode[map[string]string](t, rec)["reply"])
	assert.True(t, strings.HasSuffix(strings.TrimSpace(env.llm.LastUser()), chat.ChildMarker+" I saw a fox"))

	env.llm.Reply = "The child talked about a fox.\nMood: curious"
	rec = env.postJSON(t, "/api/chat/summary", chatRequest{History: []chat.Turn{{Role: chat.RoleUser, Content: "fox"}}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["summary"], "Mood: curious")

	rec = env.postJSON(t, "/api/chat/summary", chatRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{apperr.InvalidRequest("bad"), http.StatusBadRequest, apperr.CodeInvalidRequest},
		{apperr.NotFound("gone"), http.StatusNotFound, apperr.CodeNotFound},
		{apperr.Configuration("no key"), http.StatusServiceUnavailable, apperr.CodeConfiguration},
		{apperr.Upstream("azure", assert.AnError), http.StatusBadGateway, apperr.CodeUpstream},
		{apperr.Generation(assert.AnError), http.StatusInternalServerError, apperr.CodeGeneration},
		{assert.AnError, http.StatusInternalServerError, apperr.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			writeError(rec, req, tt.err)
			assert.Equal(t, tt.status, rec.Code)
			body := decode[errorResponse](t, rec)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
	assert.Equal(t, "internal error", ToErrorInfo(assert.AnError).Message)
}
