package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/ava/internal/config"
	"github.com/ent0n29/ava/internal/observability"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ava",
		Short:         "A personal conversational assistant with durable chat history",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newChatCmd(), newServeCmd(), newSessionsCmd())
	return root
}

// loadRuntime reads configuration and builds the process logger. levelOverride wins
// over AVA_LOG_LEVEL when set.
func loadRuntime(levelOverride string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config error: %w", err)
	}
	level := cfg.LogLevel
	if levelOverride != "" {
		level = levelOverride
	}
	logger, err := observability.NewLogger(level, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger init failed: %w", err)
	}
	return cfg, logger, nil
}
