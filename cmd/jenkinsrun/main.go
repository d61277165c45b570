package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"jenkinsrun/internal/config"
	"jenkinsrun/internal/engine/jenkins"
	"jenkinsrun/internal/events"
	"jenkinsrun/internal/host"
	"jenkinsrun/internal/logger"
	"jenkinsrun/internal/storage"
	"jenkinsrun/internal/telemetry"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "jenkinsrun",
	Short: "Run Jenkins jobs to completion and report their results",
	Long: `jenkinsrun submits a Jenkins job, follows it from the queue to a finished
build while streaming its console output, and reports the result with test
counts, links and the change that triggered it.

Use "serve" to expose the same operations over HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(config.GetLogLevel(), config.GetLogFormat())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	rootCmd.AddCommand(buildCmd, buildDataCmd, serveCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds everything a command needs once configuration is loaded
type app struct {
	cfg      *config.Config
	runner   *host.Runner
	shutdown telemetry.Shutdown
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := storage.Init(cfg.Database.Path); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	publisher, err := events.New(cfg.Events)
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	shutdown := telemetry.Init(cfg.Telemetry)

	client := jenkins.NewClient(cfg.Jenkins)
	trigger := jenkins.NewTrigger(client, cfg.Build)

	return &app{
		cfg: cfg,
		runner: &host.Runner{
			Engine:    trigger,
			Store:     host.SQLiteStore{},
			Publisher: publisher,
		},
		shutdown: shutdown,
	}, nil
}

// close flushes spans and releases the publisher and database
func (a *app) close() {
	if err := a.shutdown(context.Background()); err != nil {
		logger.Warn("Failed to flush traces", "error", err)
	}
	a.runner.Publisher.Close()
	if err := storage.Close(); err != nil {
		logger.Error("Failed to close database connection", "error", err)
	}
}
