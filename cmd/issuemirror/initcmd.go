package main

import (
	"github.com/spf13/cobra"

	"github.com/issuemirror/issuemirror/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.CreateDefaultConfig(cfgPath); err != nil {
			return err
		}
		logger.Info().Str("path", cfgPath).Msg("configuration created")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
