package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	OCR       OCRConfig       `toml:"ocr"`
	Detection DetectionConfig `toml:"detection"`
	LLM       LLMConfig       `toml:"llm"`
	Translate TranslateConfig `toml:"translate"`
	Diffusion DiffusionConfig `toml:"diffusion"`
	Language  LanguageConfig  `toml:"language"`
	Logging   LoggingConfig   `toml:"logging"`
}

// ServerConfig configures the HTTP gateway. WriteTimeout must outlast a
// diffusion call.
type ServerConfig struct {
	ListenAddr    string        `toml:"listen_addr"`
	StaticDir     string        `toml:"static_dir"`
	EnableCORS    bool          `toml:"enable_cors"`
	MaxUploadMB   int           `toml:"max_upload_mb"`
	WriteTimeout  string        `toml:"write_timeout"`
	OCRCacheTTL   string        `toml:"ocr_cache_ttl"`
	OCRCacheSize  int           `toml:"ocr_cache_size"`
	WriteTimeoutD time.Duration `toml:"-"`
	OCRCacheTTLD  time.Duration `toml:"-"`
}

// OCRConfig points at an Azure Computer Vision resource (Read API).
type OCRConfig struct {
	Endpoint string `toml:"endpoint"`
	Key      string `toml:"key"`
}

// DetectionConfig points at a Custom Vision object detection prediction URL.
type DetectionConfig struct {
	PredictionURL string `toml:"prediction_url"`
	PredictionKey string `toml:"prediction_key"`
	TopK          int    `toml:"top_k"`
}

type LLMConfig struct {
	// Provider selects the client implementation: "gemini" (default), "openai", "anthropic", "ollama".
	Provider string `toml:"provider"`
	APIKey   string `toml:"api_key"`
	// BaseURL overrides the provider's default endpoint.
	BaseURL string `toml:"base_url"`
	// Model defaults per provider (gemini-2.5-flash for gemini).
	Model           string        `toml:"model"`
	MaxTokens       int           `toml:"max_tokens"`
	RequestTimeout  string        `toml:"request_timeout"`
	RequestTimeoutD time.Duration `toml:"-"`
}

type TranslateConfig struct {
	// Provider is "google" (public translate endpoint) or "llm".
	Provider string        `toml:"provider"`
	Source   string        `toml:"source"`
	Target   string        `toml:"target"`
	Timeout  string        `toml:"timeout"`
	TimeoutD time.Duration `toml:"-"`
}

type DiffusionConfig struct {
	ModelID string `toml:"model_id"`
	// Backend is "hub" (Hugging Face inference protocol) or "docker".
	Backend         string        `toml:"backend"`
	HubURL          string        `toml:"hub_url"`
	HubToken        string        `toml:"hub_token"`
	DockerImage     string        `toml:"docker_image"`
	DockerPort      int           `toml:"docker_port"`
	WeightsDir      string        `toml:"weights_dir"`
	StartupTimeout  string        `toml:"startup_timeout"`
	OutputDir       string        `toml:"output_dir"`
	Steps           int           `toml:"steps"`
	GuidanceScale   float64       `toml:"guidance_scale"`
	Width           int           `toml:"width"`
	Height          int           `toml:"height"`
	StartupTimeoutD time.Duration `toml:"-"`

	// outputDerived is set when OutputDir was not configured and follows
	// the static directory.
	outputDerived bool
}

// LanguageConfig is the language children read and speak in.
type LanguageConfig struct {
	Target string `toml:"target"`
	Name   string `toml:"name"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:   "127.0.0.1:8000",
			StaticDir:    "./static",
			EnableCORS:   false,
			MaxUploadMB:  20,
			WriteTimeout: "10m",
			OCRCacheTTL:  "1h",
			OCRCacheSize: 256,
		},
		Detection: DetectionConfig{
			TopK: 3,
		},
		LLM: LLMConfig{
			Provider:       "gemini",
			MaxTokens:      1024,
			RequestTimeout: "60s",
		},
		Translate: TranslateConfig{
			Provider: "google",
			Source:   "en",
			Target:   "ko",
			Timeout:  "10s",
		},
		Diffusion: DiffusionConfig{
			ModelID:        "stabilityai/stable-diffusion-xl-base-1.0",
			Backend:        "hub",
			HubURL:         "https://api-inference.huggingface.co",
			DockerPort:     7861,
			StartupTimeout: "15m",
			Steps:          25,
			GuidanceScale:  7.5,
			Width:          512,
			Height:         512,
		},
		Language: LanguageConfig{
			Target: "ko",
			Name:   "Korean",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func LoadFromFile(path string) (*Config, error) {
	expandedPath, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expand path: %w", err)
	}

	data, err := os.ReadFile(expandedPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("decode TOML: %w", err)
	}

	if err := cfg.postProcess(); err != nil {
		return nil, fmt.Errorf("post process config: %w", err)
	}

	return cfg, nil
}

func (c *Config) postProcess() error {
	var err error

	if c.Server.WriteTimeoutD, err = time.ParseDuration(c.Server.WriteTimeout); err != nil {
		return fmt.Errorf("parse server.write_timeout: %w", err)
	}

	if c.Server.OCRCacheTTLD, err = time.ParseDuration(c.Server.OCRCacheTTL); err != nil {
		return fmt.Errorf("parse server.ocr_cache_ttl: %w", err)
	}

	if c.LLM.RequestTimeoutD, err = time.ParseDuration(c.LLM.RequestTimeout); err != nil {
		return fmt.Errorf("parse llm.request_timeout: %w", err)
	}

	if c.Translate.TimeoutD, err = time.ParseDuration(c.Translate.Timeout); err != nil {
		return fmt.Errorf("parse translate.timeout: %w", err)
	}

	if c.Diffusion.StartupTimeoutD, err = time.ParseDuration(c.Diffusion.StartupTimeout); err != nil {
		return fmt.Errorf("parse diffusion.startup_timeout: %w", err)
	}

	c.Server.StaticDir, err = expandPath(c.Server.StaticDir)
	if err != nil {
		return fmt.Errorf("expand server.static_dir: %w", err)
	}

	if c.Diffusion.OutputDir == "" || c.Diffusion.outputDerived {
		c.deriveOutputDir()
	}
	c.Diffusion.OutputDir, err = expandPath(c.Diffusion.OutputDir)
	if err != nil {
		return fmt.Errorf("expand diffusion.output_dir: %w", err)
	}

	c.Diffusion.WeightsDir, err = expandPath(c.Diffusion.WeightsDir)
	if err != nil {
		return fmt.Errorf("expand diffusion.weights_dir: %w", err)
	}

	c.Logging.File, err = expandPath(c.Logging.File)
	if err != nil {
		return fmt.Errorf("expand logging.file: %w", err)
	}

	return nil
}

func (c *Config) deriveOutputDir() {
	c.Diffusion.OutputDir = filepath.Join(c.Server.StaticDir, "generated")
	c.Diffusion.outputDerived = true
}

// SetStaticDir moves the static root after loading. An output directory
// that was not configured explicitly moves with it, so generated images stay
// under the directory the server publishes.
func (c *Config) SetStaticDir(dir string) error {
	expanded, err := expandPath(dir)
	if err != nil {
		return fmt.Errorf("expand server.static_dir: %w", err)
	}
	c.Server.StaticDir = expanded
	if c.Diffusion.outputDerived {
		c.deriveOutputDir()
	}
	return nil
}

// Validate checks structural settings only. Missing credentials are not
// rejected here: each stage reports its own configuration error when used,
// so the server can still run the stages that are configured.
func (c *Config) Validate() error {
	if c.Server.StaticDir == "" {
		return fmt.Errorf("server.static_dir must not be empty")
	}

	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", c.Server.MaxUploadMB)
	}

	if c.Server.OCRCacheSize < 0 {
		return fmt.Errorf("ocr_cache_size cannot be negative, got %d", c.Server.OCRCacheSize)
	}

	if c.Detection.TopK < 0 {
		return fmt.Errorf("detection.top_k cannot be negative, got %d", c.Detection.TopK)
	}

	validProviders := map[string]bool{"gemini": true, "openai": true, "anthropic": true, "ollama": true}
	if !validProviders[strings.ToLower(c.LLM.Provider)] {
		return fmt.Errorf("invalid llm provider: %s (valid: gemini, openai, anthropic, ollama)", c.LLM.Provider)
	}

	validTranslators := map[string]bool{"google": true, "llm": true}
	if !validTranslators[strings.ToLower(c.Translate.Provider)] {
		return fmt.Errorf("invalid translate provider: %s (valid: google, llm)", c.Translate.Provider)
	}

	validBackends := map[string]bool{"hub": true, "docker": true}
	if !validBackends[strings.ToLower(c.Diffusion.Backend)] {
		return fmt.Errorf("invalid diffusion backend: %s (valid: hub, docker)", c.Diffusion.Backend)
	}

	if c.Diffusion.Steps < 1 {
		return fmt.Errorf("diffusion.steps must be at least 1, got %d", c.Diffusion.Steps)
	}

	if c.Diffusion.GuidanceScale < 0 {
		return fmt.Errorf("diffusion.guidance_scale cannot be negative, got %.2f", c.Diffusion.GuidanceScale)
	}

	if c.Diffusion.Width%8 != 0 || c.Diffusion.Height%8 != 0 || c.Diffusion.Width <= 0 || c.Diffusion.Height <= 0 {
		return fmt.Errorf("diffusion width/height must be positive multiples of 8, got %dx%d",
			c.Diffusion.Width, c.Diffusion.Height)
	}

	if c.Diffusion.DockerPort <= 0 || c.Diffusion.DockerPort > 65535 {
		return fmt.Errorf("diffusion.docker_port out of range: %d", c.Diffusion.DockerPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid logging format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

// ApplyEnvOverrides applies the environment keys the service has always
// recognized (AZURE_CV_*, GEMINI_API_KEY, SD_MODEL_ID) followed by the
// PICTUREBOOK_* keys, which take precedence.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AZURE_CV_ENDPOINT"); v != "" {
		cfg.OCR.Endpoint = v
	}
	if v := os.Getenv("AZURE_CV_KEY"); v != "" {
		cfg.OCR.Key = v
	}
	if v := os.Getenv("AZURE_CV_PREDICTION_URL"); v != "" {
		cfg.Detection.PredictionURL = v
	}
	if v := os.Getenv("AZURE_CV_PREDICTION_KEY"); v != "" {
		cfg.Detection.PredictionKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("SD_MODEL_ID"); v != "" {
		cfg.Diffusion.ModelID = v
	}
	if v := os.Getenv("HF_TOKEN"); v != "" {
		cfg.Diffusion.HubToken = v
	}

	if v := os.Getenv("PICTUREBOOK_LISTEN"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("PICTUREBOOK_STATIC_DIR"); v != "" {
		cfg.Server.StaticDir = v
	}
	if v := os.Getenv("PICTUREBOOK_ENABLE_CORS"); v != "" {
		cfg.Server.EnableCORS = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("PICTUREBOOK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PICTUREBOOK_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("PICTUREBOOK_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("PICTUREBOOK_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("PICTUREBOOK_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("PICTUREBOOK_TRANSLATE_TARGET"); v != "" {
		cfg.Translate.Target = v
	}
	if v := os.Getenv("PICTUREBOOK_DIFFUSION_BACKEND"); v != "" {
		cfg.Diffusion.Backend = v
	}
	if v := os.Getenv("PICTUREBOOK_DIFFUSION_IMAGE"); v != "" {
		cfg.Diffusion.DockerImage = v
	}
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get user home directory: %w", err)
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path[1:], "/")), nil
	}

	return path, nil
}

func Load(configPath string) (*Config, error) {
	var cfg *Config
	var err error

	if configPath != "" {
		cfg, err = LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", configPath, err)
		}
	} else {
		cfg = Default()
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.postProcess(); err != nil {
		return nil, fmt.Errorf("post process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
