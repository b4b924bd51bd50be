package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/jguan/picturebook/pkg/apperr"
	"github.com/jguan/picturebook/pkg/chat"
	"github.com/jguan/picturebook/pkg/diffusion"
	"github.com/jguan/picturebook/pkg/infra/metrics"
	"github.com/jguan/picturebook/pkg/studio"
	"github.com/jguan/picturebook/pkg/vision"
)

const maxJSONBytes = 1 << 20

type textRequest struct {
	Text string `json:"text"`
}

type imageRequest struct {
	Prompt        string  `json:"prompt"`
	Steps         int     `json:"steps,omitempty"`
	GuidanceScale float64 `json:"guidanceScale,omitempty"`
	Width         int     `json:"width,omitempty"`
	Height        int     `json:"height,omitempty"`
	Seed          *int64  `json:"seed,omitempty"`
}

type detectionRequest struct {
	ImageURL string `json:"imageUrl"`
	TopK     *int   `json:"topK,omitempty"`
}

type chatRequest struct {
	Message string      `json:"message"`
	History []chat.Turn `json:"history"`
}

type pipelineHealth struct {
	State   string `json:"state"`
	Model   string `json:"model"`
	Backend string `json:"backend"`
}

type healthResponse struct {
	Status   string                      `json:"status"`
	Version  string                      `json:"version"`
	Pipeline *pipelineHealth             `json:"pipeline,omitempty"`
	Metrics  map[string]metrics.Snapshot `json:"metrics"`
	Disk     *metrics.DiskUsage          `json:"disk,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "healthy",
		Version: s.config.Version,
		Metrics: s.svc.Metrics().Snapshot(),
	}
	if s.pipeline != nil {
		resp.Pipeline = &pipelineHealth{
			State:   s.pipeline.State().String(),
			Model:   s.pipeline.ModelID(),
			Backend: s.pipeline.BackendName(),
		}
	}
	if du, err := metrics.Disk(s.config.StaticDir); err == nil {
		resp.Disk = &du
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	image, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	text, err := s.svc.ExtractText(r.Context(), image)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	prompt, err := s.svc.BuildPrompt(r.Context(), req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prompt": prompt})
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	questions, err := s.svc.BuildQuestions(r.Context(), req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"questions": questions})
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ref, err := s.svc.GenerateImage(r.Context(), req.Prompt, diffusion.Options{
		Steps:         req.Steps,
		GuidanceScale: req.GuidanceScale,
		Width:         req.Width,
		Height:        req.Height,
		Seed:          req.Seed,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	var req detectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	topK := s.svc.TopK()
	if req.TopK != nil {
		topK = *req.TopK
	}
	dets, err := s.svc.DetectObjects(r.Context(), req.ImageURL, topK)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if dets == nil {
		dets = []vision.Detection{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"detections": dets})
}

func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	image, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var opts studio.PageOptions
	if v := r.FormValue("topK"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, apperr.InvalidRequest("topK must be an integer"))
			return
		}
		opts.TopK = &k
	}
	if v := r.FormValue("questions"); v != "" {
		if opts.Questions, err = strconv.ParseBool(v); err != nil {
			writeError(w, r, apperr.InvalidRequest("questions must be a boolean"))
			return
		}
	}

	result, err := s.svc.ProcessPage(r.Context(), image, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChatReply(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	reply, err := s.svc.Reply(r.Context(), req.Message, req.History)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (s *Server) handleChatSummary(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := s.svc.Summarize(r.Context(), req.History)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, ContentTypeJSON) {
		return apperr.InvalidRequest("content type must be %s", ContentTypeJSON)
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.InvalidRequest("request body is empty")
		}
		return apperr.InvalidRequest("invalid JSON body: %v", err)
	}
	return nil
}

// readUpload returns the bytes of the multipart "file" field.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := s.config.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.InvalidRequest("upload exceeds %d MB", limit>>20)
		}
		return nil, apperr.InvalidRequest("invalid multipart form: %v", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, apperr.InvalidRequest("file is required")
	}
	defer file.Close()

	if header.Size > limit {
		return nil, apperr.InvalidRequest("upload exceeds %d MB", limit>>20)
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, apperr.InvalidRequest("read upload: %v", err)
	}
	if int64(len(data)) > limit {
		return nil, apperr.InvalidRequest("upload exceeds %d MB", limit>>20)
	}
	return data, nil
}
