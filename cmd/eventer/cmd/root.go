package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsarna/eventer/pkg/eventer/config"
)

var (
	verbose  bool
	debug    bool
	logLevel string
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "eventer",
	Short: "Eventer notification gateway",
	Long: `Eventer keeps long-lived connections to desktop clients and pushes
event notifications to them.

Clients authenticate with an encrypted token, subscribe to event kinds and
receive updates whenever the backend reports a change. Configuration is
written in HCL (HashiCorp Configuration Language).`,
	SilenceUsage: true,
}

// Execute is called by main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug output")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
}

func setupLogger() (*zap.Logger, error) {
	level := logLevel

	if debug {
		level = "debug"
	} else if verbose && level == "info" {
		level = "debug"
	}

	var zapLevel zap.AtomicLevel
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn", "warning":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zapLevel
	cfg.Development = debug

	return cfg.Build()
}

// loadConfig builds the configuration from paths, logging diagnostics.
func loadConfig(logger *zap.Logger, paths []string) (*config.Config, error) {
	sources := make([]any, len(paths))
	for i, p := range paths {
		sources[i] = p
	}

	cfg, diags := config.NewConfig().
		WithLogger(logger).
		WithSources(sources...).
		Build()
	if diags.HasErrors() {
		logger.Error("Failed to build config", zap.Any("diags", diags))
		return nil, diags
	}
	return cfg, nil
}
