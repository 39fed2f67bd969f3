// Package main provides the CLI entry point for loom, the agentic LLM
// runtime core: chat/run/resume a bot file from the command line and
// add tools to it.
//
// Usage:
//
//	loom run --bot assistant.bot --prompt "summarize this repo"
//	loom chat --bot assistant.bot
//	loom resume --bot assistant.bot
//	loom tool add --bot assistant.bot ./tools/weather.go
//
// Environment variables:
//
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY — read once, by
//     internal/credentials, keyed off the bot's resolved provider.
package main

import (
	"log/slog"
	"os"

	"github.com/loomkit/loom/internal/observability"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(observability.NewHandler(observability.LogConfig{
		Level:  os.Getenv("LOOM_LOG_LEVEL"),
		Format: os.Getenv("LOOM_LOG_FORMAT"),
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
