// Package main is the discoclaw entry point.
//
// Discoclaw is a personal Discord assistant that routes messages
// through local or hosted LM runtimes and executes the structured
// actions the model emits.
//
// Start the bot:
//
//	discoclaw run --config discoclaw.yaml
//
// Check configuration without connecting anywhere:
//
//	discoclaw doctor
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
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRootCmd constructs the CLI tree. Separated from main for tests.
func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "discoclaw",
		Short:   "Discord personal assistant bridging LM agent runtimes",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	}
	root.AddCommand(buildRunCmd())
	root.AddCommand(buildDoctorCmd())
	return root
}

func defaultConfigPath() string {
	if p := os.Getenv("DISCOCLAW_CONFIG"); p != "" {
		return p
	}
	return ""
}
