package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/imaginize/internal/api"
	"github.com/jackzampolin/imaginize/internal/config"
	"github.com/jackzampolin/imaginize/internal/svcctx"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Config commands manage the imaginize configuration file.

Settings may also be supplied as IMAGINIZE_* environment variables, and
string values may reference environment variables with ${VAR} syntax
(the usual way to supply the API key).

Examples:
  imaginize config init             # write the default config
  imaginize config show             # effective settings
  imaginize config show -o json`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		h := svcctx.HomeFrom(cmd.Context())
		if err := h.EnsureExists(); err != nil {
			return err
		}
		if err := config.WriteDefault(h.ConfigPath()); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", h.ConfigPath())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cm := svcctx.ConfigManagerFrom(cmd.Context())
		if file := cm.ConfigFileUsed(); file != "" {
			svcctx.LoggerFrom(cmd.Context()).Debug("config loaded", "file", file)
		}
		return api.Output(cm.Get())
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
