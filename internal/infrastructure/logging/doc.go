// Package logging provides structured logging for LayerFlow Core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the engine and its adapters.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error), adjustable at
//     runtime and shared by every child logger
//   - A component attribute naming the subsystem behind each entry
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	sessions := logger.Component("session")
//	sessions.Info("session opened", "workflow_id", id)
//	logger.SetLevel("debug") // also applies to sessions
//
// *Logger satisfies the small Logger interfaces declared by the domain
// packages (session, autosave, navigation, bus), so it can be passed
// to their SetLogger methods directly.
package logging
