// Package cmd holds the codelive command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gluk-w/codelive/internal/config"
	"github.com/gluk-w/codelive/internal/logging"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "codelive",
		Short:        "Collaborative code editor backend: rooms, shared terminals and code runs",
		Long:         "codelive serves the live collaboration channel, shared terminals, multi-language code execution and the @ai chat assistant. Configuration comes from CODELIVE_* environment variables.",
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			config.Load()
			logging.Init(logging.Options{
				Level:  config.Cfg.LogLevel,
				Format: config.Cfg.LogFormat,
				Path:   config.Cfg.LogPath,
			})
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newTokenCmd(),
		newProjectCmd(),
	)

	return rootCmd
}
