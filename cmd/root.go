// Package cmd implements the echobase command line interface.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/echobase-ai/echobase/internal/log"
)

var (
	verbose bool
	logJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "echobase",
	Short: "Echobase - knowledge base ingestion and retrieval service",
	Long: `Echobase ingests documents into searchable knowledge bases and answers
questions grounded in their content.

Documents are fetched, converted to text, chunked, embedded, and stored in a
vector index. Queries embed the question with the same model and return the
most similar passages, or a generated answer citing its sources.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log in JSON format")
}

// newLogger builds the process logger from the global flags.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: logJSON})
}
