package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jguan/picturebook/pkg/config"
	"github.com/jguan/picturebook/pkg/gateway"
	"github.com/jguan/picturebook/pkg/infra/logger"
)

const shutdownGrace = 30 * time.Second

func NewServeCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the picturebook HTTP API.

The server exposes the page pipeline and the chat companion as JSON
endpoints and serves generated illustrations from the static directory.
The diffusion model is loaded on the first image request.`,
		Example: `  # Listen on the configured address
  picturebook serve

  # Listen on all interfaces with CORS enabled
  picturebook serve --listen 0.0.0.0:8000 --cors`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root)
		},
	}

	flags := cmd.Flags()
	flags.String("listen", "", "Listen address (default from config)")
	flags.String("static-dir", "", "Directory served under /static (default from config)")
	flags.Bool("cors", false, "Enable CORS")

	viper.BindPFlag("server.listen_addr", flags.Lookup("listen"))
	viper.BindPFlag("server.static_dir", flags.Lookup("static-dir"))
	viper.BindPFlag("server.enable_cors", flags.Lookup("cors"))

	return cmd
}

// applyServeFlags copies flags that were set on the command line over cfg.
func applyServeFlags(cfg *config.Config) error {
	if v := viper.GetString("server.listen_addr"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := viper.GetString("server.static_dir"); v != "" {
		if err := cfg.SetStaticDir(v); err != nil {
			return err
		}
	}
	if viper.GetBool("server.enable_cors") {
		cfg.Server.EnableCORS = true
	}
	return nil
}

func serverConfig(cfg *config.Config) gateway.ServerConfig {
	sc := gateway.DefaultServerConfig()
	sc.Addr = cfg.Server.ListenAddr
	if cfg.Server.WriteTimeoutD > 0 {
		sc.WriteTimeout = cfg.Server.WriteTimeoutD
	}
	sc.EnableCORS = cfg.Server.EnableCORS
	sc.StaticDir = cfg.Server.StaticDir
	sc.MaxUploadBytes = int64(cfg.Server.MaxUploadMB) << 20
	sc.Version = cliVersion
	sc.Logger = logger.Default()
	return sc
}

func runServe(ctx context.Context, root *RootCommand) error {
	cfg := root.Config()
	if err := applyServeFlags(cfg); err != nil {
		return err
	}

	rt, err := root.Runtime()
	if err != nil {
		return fmt.Errorf("wire pipeline: %w", err)
	}

	srv := gateway.NewServer(rt.Service, rt.Invoker.Loader(), serverConfig(cfg))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	<-errCh

	logger.Info("picturebook server stopped")
	return nil
}
