package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jguan/picturebook/pkg/config"
	"github.com/jguan/picturebook/pkg/infra/logger"
	"github.com/jguan/picturebook/pkg/studio"
)

var (
	cliVersion   = "dev"
	cliBuildDate = "unknown"
	cliGitCommit = "unknown"
)

type RootCommand struct {
	cmd       *cobra.Command
	cfg       *config.Config
	opts      *OutputOptions
	formatStr string

	mu      sync.Mutex
	runtime *studio.Runtime
	service *studio.Service
	logFile io.Closer
}

func NewRootCommand() *RootCommand {
	root := &RootCommand{
		opts: NewOutputOptions(),
	}

	cmd := &cobra.Command{
		Use:   "picturebook",
		Short: "Picturebook - illustrated reading companion for children",
		Long: `Picturebook turns a photo of a storybook page into an illustration,
labels the objects in it in the child's language, and keeps up a short
conversation about the page.

Run "picturebook serve" for the HTTP API, or use the one-shot commands
to drive a single stage from the terminal.`,
		PersistentPreRunE:  root.persistentPreRunE,
		PersistentPostRunE: root.persistentPostRunE,
		SilenceUsage:       true,
		SilenceErrors:      true,
	}

	pflags := cmd.PersistentFlags()

	pflags.StringVarP(&root.formatStr, "output", "o", "table", "Output format (table, json, yaml)")
	pflags.BoolVarP(&root.opts.Quiet, "quiet", "q", false, "Suppress output")
	pflags.String("config", "", "Config file path (TOML)")
	pflags.String("log-level", "", "Log level override (debug, info, warn, error)")

	viper.BindPFlag("output", pflags.Lookup("output"))
	viper.BindPFlag("quiet", pflags.Lookup("quiet"))
	viper.BindPFlag("config", pflags.Lookup("config"))
	viper.BindPFlag("logging.level", pflags.Lookup("log-level"))

	root.cmd = cmd
	root.addSubCommands()

	return root
}

func (r *RootCommand) persistentPreRunE(cmd *cobra.Command, args []string) error {
	r.opts.Format = OutputFormat(r.formatStr)

	if r.cfg == nil {
		cfg, err := config.Load(viper.GetString("config"))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		r.cfg = cfg
	}

	if level := viper.GetString("logging.level"); level != "" {
		r.cfg.Logging.Level = level
	}
	return r.initLogger()
}

func (r *RootCommand) persistentPostRunE(cmd *cobra.Command, args []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.runtime != nil {
		err = r.runtime.Close(context.Background())
		r.runtime = nil
	}
	if r.logFile != nil {
		r.logFile.Close()
		r.logFile = nil
	}
	return err
}

func (r *RootCommand) initLogger() error {
	lc := logger.Options{
		Level:  r.cfg.Logging.Level,
		Format: r.cfg.Logging.Format,
	}
	if r.cfg.Logging.File != "" {
		f, err := os.OpenFile(r.cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		r.logFile = f
		lc.Output = f
	}
	logger.Init(lc)
	return nil
}

func (r *RootCommand) addSubCommands() {
	r.cmd.AddCommand(NewVersionCommand(r))
	r.cmd.AddCommand(NewServeCommand(r))
	r.cmd.AddCommand(NewOCRCommand(r))
	r.cmd.AddCommand(NewPromptCommand(r))
	r.cmd.AddCommand(NewQuestionsCommand(r))
	r.cmd.AddCommand(NewGenerateCommand(r))
	r.cmd.AddCommand(NewDetectCommand(r))
	r.cmd.AddCommand(NewPageCommand(r))
	r.cmd.AddCommand(NewChatCommand(r))
	r.cmd.AddCommand(NewConfigCommand(r))
}

// Runtime wires every stage from the loaded config on first use.
func (r *RootCommand) Runtime() (*studio.Runtime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runtime != nil {
		return r.runtime, nil
	}
	if r.cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	rt, err := studio.Build(r.cfg)
	if err != nil {
		return nil, err
	}
	r.runtime = rt
	return rt, nil
}

// Service returns the injected service, or the one owned by Runtime.
func (r *RootCommand) Service() (*studio.Service, error) {
	r.mu.Lock()
	svc := r.service
	r.mu.Unlock()
	if svc != nil {
		return svc, nil
	}

	rt, err := r.Runtime()
	if err != nil {
		return nil, err
	}
	return rt.Service, nil
}

// SetService replaces the wired service, bypassing Runtime.
func (r *RootCommand) SetService(svc *studio.Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.service = svc
}

func (r *RootCommand) Command() *cobra.Command {
	return r.cmd
}

func (r *RootCommand) Config() *config.Config {
	return r.cfg
}

// SetConfig skips loading from --config and the environment.
func (r *RootCommand) SetConfig(cfg *config.Config) {
	r.cfg = cfg
}

func (r *RootCommand) OutputOptions() *OutputOptions {
	return r.opts
}

func (r *RootCommand) SetOutputWriter(w io.Writer) {
	r.opts.Writer = w
	r.cmd.SetOut(w)
}

func (r *RootCommand) Execute() error {
	return r.cmd.Execute()
}

func (r *RootCommand) ExecuteContext(ctx context.Context) error {
	return r.cmd.ExecuteContext(ctx)
}

func Execute() {
	root := NewRootCommand()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		PrintError(err, root.OutputOptions())
		stop()
		os.Exit(1)
	}
}

func SetVersion(version, buildDate, gitCommit string) {
	cliVersion = version
	cliBuildDate = buildDate
	cliGitCommit = gitCommit
}

func GetVersion() string {
	return cliVersion
}

func GetBuildDate() string {
	return cliBuildDate
}

func GetGitCommit() string {
	return cliGitCommit
}
