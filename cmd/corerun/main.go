// Command corerun is a minimal process entrypoint for the runtime core: it wires the Engine,
// Conversation Manager, LLM Gateway, Tool Dispatcher, Checkpoint Manager, Message Bus, and
// Event Emitter together and drives a single run from the command line. It is explicitly not a
// TUI or chat UI — channel front-ends and packaging are out of scope for this core — just
// enough of a harness to smoke-test the wiring end to end.
//
// Configuration is loaded from a YAML file (default ./corerun.yaml, override with --config or
// the COREUN_CONFIG env var). Credentials for the configured LLM provider are read from the
// environment: ANTHROPIC_API_KEY, OPENAI_API_KEY, or the usual AWS credential chain for
// Bedrock.
package main

import (
	"log/slog"
	"os"
)

// Build-time metadata, set via -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}
