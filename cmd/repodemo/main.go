// Command repodemo drives a repository pipeline end to end over a memory or
// badger store and prints what the caches and the notifier did.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-repository-pipeline/pkg/di"
)

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:           "repodemo",
		Short:         "Exercise a cached, indexed and notifying repository pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("repodemo failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "pipeline configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.AddCommand(newRunCmd())
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func loadConfig() (di.Config, error) {
	if configPath == "" {
		cfg := di.DefaultConfig()
		cfg.Metrics = di.MetricsConfig{Enabled: true, Namespace: "repodemo"}
		return cfg, nil
	}
	return di.LoadConfig(configPath)
}
