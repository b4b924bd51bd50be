package cli

import (
	"github.com/spf13/cobra"

	"github.com/jguan/picturebook/pkg/config"
)

const redacted = "****"

func NewConfigCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Long: `Print the configuration after the file, environment overrides and
defaults have been applied. Keys and tokens are masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return PrintOutput(effectiveConfig(root.Config()), root.OutputOptions())
		},
	})

	return cmd
}

// effectiveConfig flattens cfg into the file's dotted keys.
func effectiveConfig(cfg *config.Config) map[string]any {
	return map[string]any{
		"server.listen_addr":        cfg.Server.ListenAddr,
		"server.static_dir":         cfg.Server.StaticDir,
		"server.enable_cors":        cfg.Server.EnableCORS,
		"server.max_upload_mb":      cfg.Server.MaxUploadMB,
		"server.write_timeout":      cfg.Server.WriteTimeoutD.String(),
		"server.ocr_cache_ttl":      cfg.Server.OCRCacheTTLD.String(),
		"server.ocr_cache_size":     cfg.Server.OCRCacheSize,
		"ocr.endpoint":              cfg.OCR.Endpoint,
		"ocr.key":                   mask(cfg.OCR.Key),
		"detection.prediction_url":  cfg.Detection.PredictionURL,
		"detection.prediction_key":  mask(cfg.Detection.PredictionKey),
		"detection.top_k":           cfg.Detection.TopK,
		"llm.provider":              cfg.LLM.Provider,
		"llm.api_key":               mask(cfg.LLM.APIKey),
		"llm.base_url":              cfg.LLM.BaseURL,
		"llm.model":                 cfg.LLM.Model,
		"llm.max_tokens":            cfg.LLM.MaxTokens,
		"llm.request_timeout":       cfg.LLM.RequestTimeoutD.String(),
		"translate.provider":        cfg.Translate.Provider,
		"translate.source":          cfg.Translate.Source,
		"translate.target":          cfg.Translate.Target,
		"translate.timeout":         cfg.Translate.TimeoutD.String(),
		"diffusion.model_id":        cfg.Diffusion.ModelID,
		"diffusion.backend":         cfg.Diffusion.Backend,
		"diffusion.hub_url":         cfg.Diffusion.HubURL,
		"diffusion.hub_token":       mask(cfg.Diffusion.HubToken),
		"diffusion.docker_image":    cfg.Diffusion.DockerImage,
		"diffusion.docker_port":     cfg.Diffusion.DockerPort,
		"diffusion.weights_dir":     cfg.Diffusion.WeightsDir,
		"diffusion.startup_timeout": cfg.Diffusion.StartupTimeoutD.String(),
		"diffusion.output_dir":      cfg.Diffusion.OutputDir,
		"diffusion.steps":           cfg.Diffusion.Steps,
		"diffusion.guidance_scale":  cfg.Diffusion.GuidanceScale,
		"diffusion.width":           cfg.Diffusion.Width,
		"diffusion.height":          cfg.Diffusion.Height,
		"language.target":           cfg.Language.Target,
		"language.name":             cfg.Language.Name,
		"logging.level":             cfg.Logging.Level,
		"logging.format":            cfg.Logging.Format,
		"logging.file":              cfg.Logging.File,
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return redacted
}
