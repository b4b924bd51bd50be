package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

type versionInfo struct {
	Version   string `json:"version" yaml:"version"`
	BuildDate string `json:"buildDate" yaml:"buildDate"`
	GitCommit string `json:"gitCommit" yaml:"gitCommit"`
}

func NewVersionCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the version, build date, and git commit of picturebook.",
		// version needs neither config nor logger.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			root.opts.Format = OutputFormat(root.formatStr)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return printVersion(root.OutputOptions())
		},
	}
}

func printVersion(opts *OutputOptions) error {
	info := versionInfo{
		Version:   cliVersion,
		BuildDate: cliBuildDate,
		GitCommit: cliGitCommit,
	}

	if opts.Format == OutputJSON || opts.Format == OutputYAML {
		return PrintOutput(info, opts)
	}
	fmt.Fprintf(opts.Writer, "picturebook version %s\n", info.Version)
	fmt.Fprintf(opts.Writer, "  Commit: %s\n", info.GitCommit)
	fmt.Fprintf(opts.Writer, "  Built:  %s\n", info.BuildDate)
	return nil
}
