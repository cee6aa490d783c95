package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yairfalse/colorbot/config"
	"github.com/yairfalse/colorbot/telemetry"
)

var (
	version    = "0.1.0"
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "colorbot",
		Short: "Discord username color bot",
		Long: `Colorbot - Discord username color bot

Members pick their own username color with /color. Each color is a role
named after its hex code; unused color roles are cleaned up automatically
and /colorbot purge deletes them all at once.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Colorbot {{.Version}}
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
}

// loadConfig reads the config file and applies flag overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	telemetry.SetLevel(cfg.Log.Level)
	return cfg, nil
}

// consoleLogger is the human-readable logger used by interactive commands
func consoleLogger(cfg *config.Config) *telemetry.Logger {
	return telemetry.NewLoggerWithWriter(cfg.Telemetry.ServiceName, zerolog.ConsoleWriter{Out: os.Stderr})
}
