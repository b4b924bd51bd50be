package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.ListenAddr != "127.0.0.1:8000" {
		t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, "127.0.0.1:8000")
	}
	if cfg.LLM.Provider != "gemini" {
		t.Errorf("LLM.Provider = %q, want %q", cfg.LLM.Provider, "gemini")
	}
	if cfg.LLM.Model != "" {
		t.Errorf("LLM.Model = %q, want provider default", cfg.LLM.Model)
	}
	if cfg.Diffusion.ModelID != "stabilityai/stable-diffusion-xl-base-1.0" {
		t.Errorf("Diffusion.ModelID = %q", cfg.Diffusion.ModelID)
	}
	if cfg.Diffusion.Steps != 25 || cfg.Diffusion.GuidanceScale != 7.5 {
		t.Errorf("Diffusion defaults = %d steps / %.1f guidance, want 25 / 7.5",
			cfg.Diffusion.Steps, cfg.Diffusion.GuidanceScale)
	}
	if cfg.Diffusion.Width != 512 || cfg.Diffusion.Height != 512 {
		t.Errorf("Diffusion size = %dx%d, want 512x512", cfg.Diffusion.Width, cfg.Diffusion.Height)
	}
	if cfg.Detection.TopK != 3 {
		t.Errorf("Detection.TopK = %d, want 3", cfg.Detection.TopK)
	}
	if cfg.Translate.Target != "ko" {
		t.Errorf("Translate.Target = %q, want %q", cfg.Translate.Target, "ko")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeTempConfig(t, `
[server]
listen_addr = "0.0.0.0:8080"
static_dir = "/srv/static"

[llm]
provider = "ollama"
model = "llama3.2"

[diffusion]
backend = "docker"
steps = 30
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Server.ListenAddr != "0.0.0.0:8080" {
		t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, "0.0.0.0:8080")
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("LLM.Provider = %q, want %q", cfg.LLM.Provider, "ollama")
	}
	if cfg.Diffusion.Backend != "docker" {
		t.Errorf("Diffusion.Backend = %q, want %q", cfg.Diffusion.Backend, "docker")
	}
	if cfg.Diffusion.Steps != 30 {
		t.Errorf("Diffusion.Steps = %d, want 30", cfg.Diffusion.Steps)
	}
	// Unset keys keep their defaults.
	if cfg.Diffusion.GuidanceScale != 7.5 {
		t.Errorf("Diffusion.GuidanceScale = %v, want 7.5", cfg.Diffusion.GuidanceScale)
	}
	if cfg.Diffusion.OutputDir != filepath.Join("/srv/static", "generated") {
		t.Errorf("Diffusion.OutputDir = %q, want derived from static_dir", cfg.Diffusion.OutputDir)
	}
}

func TestLoadFromFile_ExpandHome(t *testing.T) {
	homeDir, _ := os.UserHomeDir()
	path := writeTempConfig(t, `
[server]
static_dir = "~/picturebook-static"

[diffusion]
output_dir = "~/picturebook-images"
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	expectedStatic := filepath.Join(homeDir, "picturebook-static")
	if cfg.Server.StaticDir != expectedStatic {
		t.Errorf("Server.StaticDir = %q, want %q", cfg.Server.StaticDir, expectedStatic)
	}

	expectedOutput := filepath.Join(homeDir, "picturebook-images")
	if cfg.Diffusion.OutputDir != expectedOutput {
		t.Errorf("Diffusion.OutputDir = %q, want %q", cfg.Diffusion.OutputDir, expectedOutput)
	}
}

func TestLoadFromFile_NotExist(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.toml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFile_BadDuration(t *testing.T) {
	path := writeTempConfig(t, `
[llm]
request_timeout = "soon"
`)

	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for unparseable duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "missing credentials are allowed",
			modify: func(c *Config) {
				c.OCR.Key = ""
				c.LLM.APIKey = ""
				c.Detection.PredictionKey = ""
			},
			wantErr: false,
		},
		{
			name: "zero top_k is allowed",
			modify: func(c *Config) {
				c.Detection.TopK = 0
			},
			wantErr: false,
		},
		{
			name: "negative top_k",
			modify: func(c *Config) {
				c.Detection.TopK = -1
			},
			wantErr: true,
		},
		{
			name: "unknown llm provider",
			modify: func(c *Config) {
				c.LLM.Provider = "palm"
			},
			wantErr: true,
		},
		{
			name: "unknown translate provider",
			modify: func(c *Config) {
				c.Translate.Provider = "deepl"
			},
			wantErr: true,
		},
		{
			name: "unknown diffusion backend",
			modify: func(c *Config) {
				c.Diffusion.Backend = "local"
			},
			wantErr: true,
		},
		{
			name: "zero steps",
			modify: func(c *Config) {
				c.Diffusion.Steps = 0
			},
			wantErr: true,
		},
		{
			name: "size not a multiple of 8",
			modify: func(c *Config) {
				c.Diffusion.Width = 500
			},
			wantErr: true,
		},
		{
			name: "zero upload limit",
			modify: func(c *Config) {
				c.Server.MaxUploadMB = 0
			},
			wantErr: true,
		},
		{
			name: "invalid logging level",
			modify: func(c *Config) {
				c.Logging.Level = "invalid"
			},
			wantErr: true,
		},
		{
			name: "invalid logging format",
			modify: func(c *Config) {
				c.Logging.Format = "invalid"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("AZURE_CV_ENDPOINT", "https://cv.example.com")
	t.Setenv("AZURE_CV_KEY", "ocr-key")
	t.Setenv("AZURE_CV_PREDICTION_URL", "https://cv.example.com/predict")
	t.Setenv("AZURE_CV_PREDICTION_KEY", "pred-key")
	t.Setenv("SD_MODEL_ID", "runwayml/stable-diffusion-v1-5")
	t.Setenv("PICTUREBOOK_LISTEN", "0.0.0.0:3000")
	t.Setenv("PICTUREBOOK_LOG_LEVEL", "debug")

	ApplyEnvOverrides(cfg)

	if cfg.OCR.Endpoint != "https://cv.example.com" || cfg.OCR.Key != "ocr-key" {
		t.Errorf("OCR = %+v", cfg.OCR)
	}
	if cfg.Detection.PredictionURL != "https://cv.example.com/predict" || cfg.Detection.PredictionKey != "pred-key" {
		t.Errorf("Detection = %+v", cfg.Detection)
	}
	if cfg.Diffusion.ModelID != "runwayml/stable-diffusion-v1-5" {
		t.Errorf("Diffusion.ModelID = %q", cfg.Diffusion.ModelID)
	}
	if cfg.Server.ListenAddr != "0.0.0.0:3000" {
		t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, "0.0.0.0:3000")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestApplyEnvOverrides_APIKeyPrecedence(t *testing.T) {
	t.Run("gemini key only", func(t *testing.T) {
		cfg := Default()
		t.Setenv("GEMINI_API_KEY", "gemini-key")

		ApplyEnvOverrides(cfg)

		if cfg.LLM.APIKey != "gemini-key" {
			t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, "gemini-key")
		}
	})

	t.Run("generic key wins", func(t *testing.T) {
		cfg := Default()
		t.Setenv("GEMINI_API_KEY", "gemini-key")
		t.Setenv("PICTUREBOOK_LLM_API_KEY", "generic-key")

		ApplyEnvOverrides(cfg)

		if cfg.LLM.APIKey != "generic-key" {
			t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, "generic-key")
		}
	})
}

func TestApplyEnvOverrides_BooleanValues(t *testing.T) {
	tests := []struct {
		value    string
		expected bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"false", false},
		{"0", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			cfg := Default()
			cfg.Server.EnableCORS = false

			t.Setenv("PICTUREBOOK_ENABLE_CORS", tt.value)

			ApplyEnvOverrides(cfg)

			if cfg.Server.EnableCORS != tt.expected {
				t.Errorf("Server.EnableCORS = %v, want %v", cfg.Server.EnableCORS, tt.expected)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/test", filepath.Join(homeDir, "test")},
		{"~/", homeDir},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := expandPath(tt.input)
			if err != nil {
				t.Fatalf("expandPath(%q) error: %v", tt.input, err)
			}
			if result != tt.expected {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("with config file", func(t *testing.T) {
		path := writeTempConfig(t, `
[translate]
target = "ja"

[language]
target = "ja"
name = "Japanese"
`)

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}

		if cfg.Translate.Target != "ja" {
			t.Errorf("Translate.Target = %q, want %q", cfg.Translate.Target, "ja")
		}
		if cfg.Language.Name != "Japanese" {
			t.Errorf("Language.Name = %q, want %q", cfg.Language.Name, "Japanese")
		}
	})

	t.Run("without config file", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}

		if cfg.Server.ListenAddr != "127.0.0.1:8000" {
			t.Errorf("Server.ListenAddr = %q, want default", cfg.Server.ListenAddr)
		}
		if cfg.Diffusion.OutputDir != filepath.Join("./static", "generated") {
			t.Errorf("Diffusion.OutputDir = %q, want default under static dir", cfg.Diffusion.OutputDir)
		}
	})

	t.Run("with env overrides", func(t *testing.T) {
		t.Setenv("PICTUREBOOK_LLM_MODEL", "gemini-2.0-flash")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}

		if cfg.LLM.Model != "gemini-2.0-flash" {
			t.Errorf("LLM.Model = %q, want %q", cfg.LLM.Model, "gemini-2.0-flash")
		}
	})

	t.Run("invalid env value", func(t *testing.T) {
		t.Setenv("PICTUREBOOK_DIFFUSION_BACKEND", "cloud")

		if _, err := Load(""); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestPostProcess_DurationParsing(t *testing.T) {
	path := writeTempConfig(t, `
[server]
write_timeout = "5m"

[llm]
request_timeout = "90s"

[translate]
timeout = "3s"
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Server.WriteTimeoutD.Minutes() != 5 {
		t.Errorf("Server.WriteTimeoutD = %v, want 5m", cfg.Server.WriteTimeoutD)
	}
	if cfg.LLM.RequestTimeoutD.Seconds() != 90 {
		t.Errorf("LLM.RequestTimeoutD = %v, want 90s", cfg.LLM.RequestTimeoutD)
	}
	if cfg.Translate.TimeoutD.Seconds() != 3 {
		t.Errorf("Translate.TimeoutD = %v, want 3s", cfg.Translate.TimeoutD)
	}
	if cfg.Server.OCRCacheTTLD.Hours() != 1 {
		t.Errorf("Server.OCRCacheTTLD = %v, want 1h default", cfg.Server.OCRCacheTTLD)
	}
}

func TestLoad_StaticDirEnvMovesOutputDir(t *testing.T) {
	path := writeTempConfig(t, `
[server]
static_dir = "/srv/static"
`)
	t.Setenv("PICTUREBOOK_STATIC_DIR", "/srv/www")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.StaticDir != "/srv/www" {
		t.Errorf("Server.StaticDir = %q, want %q", cfg.Server.StaticDir, "/srv/www")
	}
	if want := filepath.Join("/srv/www", "generated"); cfg.Diffusion.OutputDir != want {
		t.Errorf("Diffusion.OutputDir = %q, want %q", cfg.Diffusion.OutputDir, want)
	}
}

func TestSetStaticDir(t *testing.T) {
	t.Run("derived output dir follows", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if err := cfg.SetStaticDir("/srv/www"); err != nil {
			t.Fatalf("SetStaticDir: %v", err)
		}
		if want := filepath.Join("/srv/www", "generated"); cfg.Diffusion.OutputDir != want {
			t.Errorf("Diffusion.OutputDir = %q, want %q", cfg.Diffusion.OutputDir, want)
		}
	})

	t.Run("explicit output dir is kept", func(t *testing.T) {
		path := writeTempConfig(t, `
[diffusion]
output_dir = "/var/lib/picturebook/images"
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if err := cfg.SetStaticDir("/srv/www"); err != nil {
			t.Fatalf("SetStaticDir: %v", err)
		}
		if cfg.Diffusion.OutputDir != "/var/lib/picturebook/images" {
			t.Errorf("Diffusion.OutputDir = %q, want configured value", cfg.Diffusion.OutputDir)
		}
	})
}
