package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/issuemirror/issuemirror/config"
)

var (
	cfgPath  string
	logLevel string
	logger   zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "issuemirror",
	Short:         "Mirror GitHub issue-tracker state into a local database",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			level = zerolog.InfoLevel
		}
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger().Level(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.json", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(cfgPath)
}
