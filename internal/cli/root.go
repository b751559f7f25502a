package cli

import (
	"context"

	"github.com/spf13/cobra"

	"kan-poisson/internal/logger"
)

type rootOptions struct {
	configPath string
	logFile    string
	debug      bool
}

// Execute runs the command line against os.Args.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "kan-poisson",
		Short:        "Fit a KAN to the 2D Poisson equation and extract its formula",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "configs/poisson.yaml", "Path to YAML config")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Also append JSON logs to this file")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(trainCmd(opts), formulaCmd(opts), versionCmd())
	return cmd
}

// setupLogger installs the process logger for one command; console output
// goes to the command's stderr.
func (o *rootOptions) setupLogger(cmd *cobra.Command) (func() error, error) {
	return logger.Setup(logger.Config{
		Console: cmd.ErrOrStderr(),
		File:    o.logFile,
		Debug:   o.debug,
	})
}
