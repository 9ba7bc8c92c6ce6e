package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/imaginize/internal/api"
	"github.com/jackzampolin/imaginize/internal/config"
	"github.com/jackzampolin/imaginize/internal/events"
	"github.com/jackzampolin/imaginize/internal/home"
	"github.com/jackzampolin/imaginize/internal/providers"
	"github.com/jackzampolin/imaginize/internal/svcctx"
	"github.com/jackzampolin/imaginize/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "imaginize",
	Short: "AI illustration pipeline for books",
	Long: `Imaginize reads a book, identifies its illustratable scenes and story
elements with an AI model, and generates one image per scene.

The pipeline runs three phases:
  - analyze:    read each chapter, pick scenes, note characters/places/items
  - extract:    consolidate the entity catalog across chapters
  - illustrate: generate an image for every scene

All state is kept on disk next to the book output, so an interrupted
run resumes where it stopped. Books can share an element catalog
through a series directory.`,
	Version:      version.GitRelease,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		api.SetOutputFormat(outputFormat)

		svcs, err := buildServices()
		if err != nil {
			return err
		}
		cmd.SetContext(svcctx.WithServices(cmd.Context(), svcs))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if bus := svcctx.BusFrom(cmd.Context()); bus != nil {
			bus.Close()
		}
	},
}

// buildServices wires the shared services every command pulls from the
// context: home layout, config manager, logger, event bus, and the
// provider registry. The registry starts unconfigured; commands that
// call models configure it after validating credentials.
func buildServices() (*svcctx.Services, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}

	// A custom home implies its config file unless --config overrides.
	cfgPath := cfgFile
	if cfgPath == "" && homeDir != "" && h.ConfigExists() {
		cfgPath = h.ConfigPath()
	}

	cm, err := config.NewManager(cfgPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cm.Get().Log)
	slog.SetDefault(logger)

	registry := providers.NewRegistry()
	registry.SetLogger(logger)

	return &svcctx.Services{
		ConfigManager: cm,
		Registry:      registry,
		Bus:           events.NewBus(logger),
		Logger:        logger,
		Home:          h,
	}, nil
}

// newLogger builds the process logger from the log config section.
// Logs go to stderr so structured command output on stdout stays
// parseable.
func newLogger(cfg config.LogCfg) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.imaginize/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "imaginize home directory (default: ~/.imaginize)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "text", "output format: text, yaml, or json",
	)

	rootCmd.AddCommand(versionCmd)
}
