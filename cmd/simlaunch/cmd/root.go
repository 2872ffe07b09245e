package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/zeroth-labs/simlaunch/pkg/config"
	"github.com/zeroth-labs/simlaunch/pkg/simlog"
)

type contextKey string

const configContextKey contextKey = "simlaunchconfig"

var (
	cfgFile string
	verbose bool

	rootCmd = &cobra.Command{
		Use:   "simlaunch",
		Short: "Reproducible containerized experiment launcher",
		Long: `simlaunch provisions a GPU-enabled simulation container and dispatches
parameterized training runs into it. It resolves or builds the image,
starts the container with accelerator passthrough, runs the training
command, and records every run in an append-only registry for
reproducibility.

Typical session:
  simlaunch launch --task stompymicro --num-envs 4
  simlaunch runs
  simlaunch logs <run-id>`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			if err := cfg.Viper().BindPFlags(cmd.Flags()); err != nil {
				return err
			}

			ctx := context.WithValue(cmd.Context(), configContextKey, cfg)
			cmd.SetContext(ctx)

			return nil
		},
	}
)

// GetConfig retrieves the Config from the command context.
func GetConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configContextKey).(*config.Config)
	if !ok {
		return nil, errors.New("no config in context")
	}
	return cfg, nil
}

func logger() *simlog.Logger {
	if verbose {
		return simlog.NewVerbose()
	}
	return simlog.NewDefault()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err, 0))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML). Searches: simlaunch.yaml, .simlaunch/config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
