// Package logging provides structured logging for Deckvault Core.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same handler, level and default fields.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8080)
//	sessionLog := logger.With("component", "sessions")
//
// # Security
//
// Never log access tokens, refresh tokens, password hashes or passwords.
// Token verification failures are logged at debug level with the reason
// only, never the token itself.
package logging
