// Consultd runs the virtual consultation pipeline.
//
// The serve command exposes the session-scoped HTTP API. The ingest command
// loads the disease reference CSV into the knowledge index, and consult runs
// a single consultation interactively in the terminal.
//
// Configuration is read from ~/.config/consultd/config.yaml (or --config)
// and CONSULTD_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Load the reference knowledge, then serve
//	consultd ingest diseases.csv
//	consultd serve
//
//	# Configure via environment
//	CONSULTD_SERVER_PORT=8080 CONSULTD_LLM_PROVIDER=ollama consultd serve
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag shared by every command.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "consultd",
	Short: "Virtual medical consultation service",
	Long: `consultd guides a patient through intake, symptom collection and
clarifying questions, screens the transcript, drafts a diagnosis against a
reference knowledge base and either finalizes it with a clinical order or
refers the patient to an in-person visit.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "consultd by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/consultd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(consultCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
