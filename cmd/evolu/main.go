// Command evolu is a thin CLI wrapper over internal/evolu's facade,
// useful for scripting a local-first database from shell (init, mutate,
// query, export, restore) without embedding the Go package.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/evoluhq/evolu-go/internal/config"
)

var (
	configPath string
	dbPath     string
	schemaPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "evolu",
	Short: "evolu - local-first synchronizing database CLI",
	Long:  `A command-line front end for the evolu engine: open a local database, mutate it, run reactive queries, and sync.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "evolu.yaml", "Path to the engine's YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite storage path (default: <name>.sqlite3 from config)")
	rootCmd.PersistentFlags().StringVar(&schemaPath, "schema", "schema.json", "Path to a JSON {table: [columns...]} schema file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output machine-readable JSON")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(mutateCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(restoreCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger from config.MinimumLogLevel/EnableLogging.
func newLogger() *slog.Logger {
	if !config.EnableLogging() {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(config.MinimumLogLevel())); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// signalContext returns a context canceled on SIGINT/SIGTERM, matching the
// graceful-shutdown pattern every subcommand's RunE runs under.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func storagePath() string {
	if dbPath != "" {
		return dbPath
	}
	if name := config.Name(); name != "" {
		return name + ".sqlite3"
	}
	return "evolu.sqlite3"
}
