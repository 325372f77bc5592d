// Package cmd contains the chatgraph entry points: argument dispatch,
// process wiring and the serve loop.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/windlane/chatgraph/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "0.0.1"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// Execute is the main entry point for the chatgraph binary. It routes the
// first argument to a subcommand; version and help work even when the
// configuration is invalid.
func Execute() error {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			return printVersionInfo()
		case "help", "--help", "-h":
			printHelp()
			return nil
		case "serve":
			// fallthrough to the default below
		default:
			printHelp()
			return fmt.Errorf("unknown command %q", os.Args[1])
		}
	}

	logger := initLogger()
	slog.SetDefault(logger)

	return runServe(logger)
}

// initLogger builds the process logger. DEBUG enables debug level;
// LOG_FORMAT=json switches to JSON output for log collectors.
func initLogger() log.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	if os.Getenv("LOG_FORMAT") == "json" {
		cfg.JSON = true
	}
	return log.New(cfg)
}

// printHelp displays usage for the chatgraph binary.
func printHelp() {
	fmt.Println("chatgraph - streaming conversational agent server")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  chatgraph serve [addr]     Start the HTTP API server (default " + defaultAddr + ")")
	fmt.Println("  chatgraph version          Show version information")
	fmt.Println("  chatgraph help             Show this help")
	fmt.Println()
	fmt.Println("Endpoints:")
	fmt.Println("  POST   /api/chat           Run a turn, streaming NDJSON events")
	fmt.Println("  GET    /api/chat           Read conversation history (?thread_id=...)")
	fmt.Println("  GET    /api/sessions       List sessions")
	fmt.Println("  PATCH  /api/sessions/{id}  Rename a session")
	fmt.Println("  DELETE /api/sessions/{id}  Delete a session and its history")
	fmt.Println("  GET    /health, /ready     Probes")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY             Required: Gemini API key")
	fmt.Println("  CHATGRAPH_ADDR             Optional: listen address when serve gets no argument")
	fmt.Println("  DATABASE_URL               Optional: PostgreSQL connection URL")
	fmt.Println("  CHATGRAPH_STORAGE          Optional: postgres (default) or memory")
	fmt.Println("  DEBUG                      Optional: enable debug logging")
	fmt.Println("  LOG_FORMAT                 Optional: json for JSON log output")
}
