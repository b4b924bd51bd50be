// Package gateway serves the page pipeline and companion chat over HTTP.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jguan/picturebook/pkg/diffusion"
	"github.com/jguan/picturebook/pkg/gateway/middleware"
	"github.com/jguan/picturebook/pkg/studio"
)

type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	EnableCORS      bool
	CORSConfig      middleware.CORSConfig
	StaticDir       string
	MaxUploadBytes  int64
	Version         string
	Logger          *slog.Logger
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            "127.0.0.1:8000",
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Minute,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		CORSConfig:      middleware.DefaultCORSConfig(),
		StaticDir:       "./static",
		MaxUploadBytes:  20 << 20,
		Version:         "dev",
	}
}

// PipelineStatus reports the image pipeline for /health.
type PipelineStatus interface {
	State() diffusion.State
	ModelID() string
	BackendName() string
}

type Server struct {
	svc      *studio.Service
	pipeline PipelineStatus
	config   ServerConfig
	http     *http.Server
	logger   *slog.Logger
}

// NewServer fills zero config values from DefaultServerConfig. pipeline may be nil.
func NewServer(svc *studio.Service, pipeline PipelineStatus, config ServerConfig) *Server {
	def := DefaultServerConfig()
	if config.Addr == "" {
		config.Addr = def.Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = def.IdleTimeout
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = def.MaxUploadBytes
	}
	if config.StaticDir == "" {
		config.StaticDir = def.StaticDir
	}
	if config.Version == "" {
		config.Version = def.Version
	}
	if len(config.CORSConfig.Origins) == 0 {
		config.CORSConfig = def.CORSConfig
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		svc:      svc,
		pipeline: pipeline,
		config:   config,
		logger:   log,
	}
	s.http = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) Config() ServerConfig { return s.config }

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/ocr", s.handleOCR)
	mux.HandleFunc("POST /api/prompt", s.handlePrompt)
	mux.HandleFunc("POST /api/questions", s.handleQuestions)
	mux.HandleFunc("POST /api/images", s.handleImages)
	mux.HandleFunc("POST /api/detections", s.handleDetections)
	mux.HandleFunc("POST /api/pages", s.handlePages)
	mux.HandleFunc("POST /api/chat/reply", s.handleChatReply)
	mux.HandleFunc("POST /api/chat/summary", s.handleChatSummary)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.config.StaticDir))))

	var handler http.Handler = mux
	if s.config.EnableCORS {
		handler = middleware.CORS(s.config.CORSConfig)(handler)
	}
	handler = middleware.Logging(s.logger)(handler)
	handler = middleware.Recovery(s.logger)(handler)
	handler = middleware.RequestID()(handler)
	return handler
}

// Start blocks until the server fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", slog.String("addr", s.config.Addr))

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
