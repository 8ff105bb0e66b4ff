// Package cmd defines the digibot command-line interface.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/digilab/digibot/internal/log"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "digibot",
	Short: "Streaming chat relay for report analysis",
	Long: `digibot relays chat exchanges between report viewers and an
OpenAI-compatible completion provider, streaming replies fragment by
fragment and persisting each conversation in PostgreSQL.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the CLI.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

// newLogger builds the process logger from the verbose flag.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: true})
}

// loadDotenv loads a local .env file when present. Missing files are
// fine; real deployments set environment variables directly.
func loadDotenv(logger log.Logger) {
	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded .env file")
	}
}
