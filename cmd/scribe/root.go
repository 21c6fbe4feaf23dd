package main

import (
	"github.com/spf13/cobra"

	"github.com/haukened/scribe/internal/config"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:           "scribe",
		Short:         "Scribe stores posts with chunked file attachments",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := cfg.LogLevel
			if logLevel != "" {
				level = logLevel
			}
			return configureLogger(cmd.ErrOrStderr(), level, cfg.LogFormat)
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(cfg),
		newUploadCmd(cfg),
		newDownloadCmd(cfg),
		newDeleteCmd(cfg),
	)
	return cmd
}
