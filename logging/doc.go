// Package logging provides a minimal logging interface and adapters.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that adapters, tools and the turn loop use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - StructuredLogger with run/component context and call records
//   - Tracer with a logging backed implementation (LogTracer)
//   - NoOpLogger and NoOpTracer for silent operation
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	a, err := agent.New("assistant", m, func(o *agent.Options) {
//	  o.Logger = logger
//	  o.Tracer = logging.NewTracer(logger)
//	})
package logging
