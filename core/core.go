package core

import "github.com/hupe1980/agentstream/logging"

// callLogger tags every record with the run id, tool name and call id of a
// single tool invocation. A nil logger is replaced with a NoOpLogger.
type callLogger struct {
	logger logging.Logger
	attrs  []any
}

var _ logging.Logger = (*callLogger)(nil)

func newCallLogger(l logging.Logger, runID, toolName, callID string) *callLogger {
	if l == nil {
		l = logging.NoOpLogger{}
	}
	return &callLogger{
		logger: l,
		attrs:  []any{"run_id", runID, "tool", toolName, "call_id", callID},
	}
}

func (l *callLogger) with(args []any) []any {
	out := make([]any, 0, len(l.attrs)+len(args))
	return append(append(out, l.attrs...), args...)
}

// Debug implements logging.Logger.
func (l *callLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, l.with(args)...) }

// Info implements logging.Logger.
func (l *callLogger) Info(msg string, args ...any) { l.logger.Info(msg, l.with(args)...) }

// Warn implements logging.Logger.
func (l *callLogger) Warn(msg string, args ...any) { l.logger.Warn(msg, l.with(args)...) }

// Error implements logging.Logger.
func (l *callLogger) Error(msg string, args ...any) { l.logger.Error(msg, l.with(args)...) }
