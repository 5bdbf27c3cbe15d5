// Package cmd wires the CLI. Commands are thin: they load configuration,
// assemble the engine, and hand off to the library packages.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/devrecall/devrecall/internal/config"
	"github.com/devrecall/devrecall/internal/engine"
	"github.com/devrecall/devrecall/internal/log"
)

var (
	flagJSONLog bool
	flagDebug   bool
)

var rootCmd = &cobra.Command{
	Use:   "devrecall",
	Short: "devrecall - searchable memory for development activity",
	Long: `devrecall ingests development activity records (sessions, errors,
deployments, learnings) into a hybrid vector index and answers natural
language questions about them.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagJSONLog, "json-log", false, "emit logs as JSON")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
}

func newLogger() log.Logger {
	level := log.ParseLevel(os.Getenv("DEVRECALL_LOG_LEVEL"))
	if flagDebug {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: flagJSONLog})
}

// setupEngine loads config and assembles the engine with a signal-aware
// context. The returned cancel also applies to the engine's context.
func setupEngine() (context.Context, context.CancelFunc, *engine.Engine, log.Logger, error) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	logger := newLogger()
	cfg, err := config.Load()
	if err != nil {
		cancel()
		return nil, nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	eng, err := engine.New(ctx, cfg, logger)
	if err != nil {
		cancel()
		return nil, nil, nil, nil, fmt.Errorf("initializing engine: %w", err)
	}
	return ctx, cancel, eng, logger, nil
}
