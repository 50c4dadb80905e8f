// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging provides the zerolog-based structured logging layer shared
// by the HTTP transport (internal/api, internal/middleware), the ingestion
// pipeline (internal/pipeline), and the storage/dispatcher layers.
//
// # Overview
//
// The package provides:
//   - Zero-allocation structured logging via zerolog
//   - JSON output format for production (machine-parseable)
//   - Console output format for development (human-readable)
//   - Global logger configuration via environment variables
//   - Context-aware logging with request/correlation ID propagation,
//     populated once per HTTP call by internal/middleware.RequestID
//
// # Quick Start
//
//	import "github.com/sgaydamakov/counters-engine/internal/logging"
//
//	// Initialize at application startup
//	logging.Init(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Caller: false,
//	})
//
//	// Log messages with structured fields
//	logging.Info().Str("factId", factID).Msg("fact saved")
//	logging.Error().Err(err).Int("messageType", t).Msg("mapping failed")
//
//	// Context-aware logging
//	logging.Ctx(ctx).Info().Str("queryId", queryID).Msg("counter query dispatched")
//
// # Configuration
//
// Environment Variables:
//
//	LOG_LEVEL   - Minimum log level: debug, info, warn, error (default: info)
//	LOG_FORMAT  - Output format: json, console (default: json)
//	LOG_CALLER  - Include caller file:line: true, false (default: false)
//
// Programmatic Configuration:
//
//	logging.Init(logging.Config{
//	    Level:     "debug",    // trace, debug, info, warn, error, fatal
//	    Format:    "console",  // json or console
//	    Caller:    true,       // Include caller info
//	    Timestamp: true,       // Include timestamps
//	    Output:    os.Stderr,  // Output writer
//	})
//
// # Log Levels
//
// Supported log levels (from most to least verbose):
//
//	trace  - Very detailed diagnostic information
//	debug  - Detailed diagnostic information
//	info   - General operational information (default)
//	warn   - Warning conditions that should be addressed
//	error  - Error conditions requiring attention
//	fatal  - Fatal errors that terminate the program
//	panic  - Panic conditions that crash the program
//
// # Structured Logging Best Practices
//
// Always terminate log chains with .Msg() or .Send():
//
//	logging.Info().Str("key", "value").Msg("message")  // Correct
//	logging.Info().Str("key", "value")                 // WRONG - log not emitted
//
// Use structured fields instead of string formatting:
//
//	// Good - structured, searchable, efficient
//	logging.Info().
//	    Str("factId", factID).
//	    Int("counterCount", len(result.Counters)).
//	    Dur("elapsed", duration).
//	    Msg("ingestion request completed")
//
//	// Avoid - unstructured, harder to parse
//	logging.Info().Msgf("fact %s produced %d counters in %v", factID, n, duration)
//
// # Component Loggers
//
// Create component-specific loggers with default fields:
//
//	dispatcherLogger := logging.WithComponent("dispatcher")
//	dispatcherLogger.Warn().Msg("worker pool exhausted")
//
// # Context-Aware Logging
//
// Propagate request context through logging:
//
//	// Picks up the request_id/correlation_id middleware.RequestID attached
//	logger := logging.Ctx(ctx)
//	logger.Info().Msg("processing ingestion request")
//
// # Output Formats
//
// JSON Format (Production):
//
//	{"level":"info","time":"2026-01-03T10:30:00Z","message":"fact saved","factId":"abc123"}
//
// Console Format (Development):
//
//	10:30:00 INF fact saved factId=abc123
//
// # Thread Safety
//
// All exported functions are safe for concurrent use. The global logger
// is protected by sync.RWMutex for configuration changes.
//
// # Testing
//
// Create test loggers that capture output:
//
//	var buf bytes.Buffer
//	logger := logging.NewTestLogger(&buf)
//	logger.Info().Msg("test message")
//	output := buf.String()
//
// # See Also
//
//   - github.com/rs/zerolog: underlying logging library
//   - internal/middleware: RequestID middleware that seeds the
//     request_id/correlation_id fields Ctx attaches
package logging
