// Package logging provides structured logging for the ingest service.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "./logs/tagingest.log"
//
// # Usage
//
//	logger, err := logging.New(cfg.Logging, version)
//	logger.Info("pipeline started", "workers", 4)
//	logger.Error("insert failed", "error", err)
//
// # Security
//
// Never log the upstream user key or storage credentials. Request URLs
// carry the user key and are not logged.
package logging
