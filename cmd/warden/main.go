// Package main is the warden CLI: the serve loop plus the administrative
// commands for archives, evals, expiration sweeps, schedules, and bootstrap.
//
// Start the server:
//
//	warden serve --config warden.yaml
//
// Configuration can also be pointed at with WARDEN_CONFIG. Provider API keys
// come from the environment (ANTHROPIC_API_KEY, OPENAI_API_KEY) unless the
// routing graph names its own variables.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(exitCode(err))
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "warden",
		Short:        "Warden - persistent autonomous agent platform",
		Long:         `Warden runs long-lived agents: an event loop per agent, tiered LLM routing, tool dispatch, credit metering, and lifecycle sweeps.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (or set WARDEN_CONFIG)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildPruneArchivesCmd(),
		buildRunEvalsCmd(),
		buildSoftExpireCmd(),
		buildSyncSchedulesCmd(),
		buildSuperuserCmd(),
	)
	return rootCmd
}

// configPath resolves the configuration file from the flag or environment.
func configPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	if path := os.Getenv("WARDEN_CONFIG"); path != "" {
		return path
	}
	// Empty path loads the built-in defaults.
	return ""
}
