package main

import (
	"fmt"
	"os"

	"github.com/holon-run/localagent/pkg/config"
	holonlog "github.com/holon-run/localagent/pkg/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "localagent",
	Short: "localagent runs file searches and interactive processes for remote callers.",
	Long: `localagent keeps long-running background work in named sessions.

Search sessions walk a directory tree and collect files matching a wildcard
pattern. Process sessions run a command with piped stdin/stdout/stderr and keep
a bounded transcript. Both are exposed as JSON-RPC methods over HTTP, WebSocket
and stdio.`,
	SilenceUsage: true,
}

// loadConfig reads the configuration file and applies the persistent log
// flags on top of it before initializing the global logger.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = logFormat
	}

	level, err := holonlog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return config.Config{}, err
	}
	if err := holonlog.Init(holonlog.Config{
		Level:  level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	}); err != nil {
		return config.Config{}, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.localagent/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "progress", "Log level: debug, info, progress, minimal, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format: console or json")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
