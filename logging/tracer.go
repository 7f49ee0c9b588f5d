package logging

import (
	"context"
	"sync/atomic"
	"time"
)

// Span is an open tracing span. End must be called exactly once.
type Span interface {
	End(err error)
}

// Tracer receives span boundaries, log calls and typed model/tool records.
// Persisting them is up to the implementation.
type Tracer interface {
	Logger
	StartSpan(ctx context.Context, name string, attrs ...any) (context.Context, Span)
	RecordLLMCall(model string, tokens int, dur time.Duration, err error)
	RecordToolCall(tool string, dur time.Duration, err error)
}

// NoOpTracer discards all spans and records.
type NoOpTracer struct{ NoOpLogger }

// StartSpan returns ctx unchanged and a span that does nothing.
func (NoOpTracer) StartSpan(ctx context.Context, _ string, _ ...any) (context.Context, Span) {
	return ctx, noopSpan{}
}

// RecordLLMCall discards the record.
func (NoOpTracer) RecordLLMCall(string, int, time.Duration, error) {}

// RecordToolCall discards the record.
func (NoOpTracer) RecordToolCall(string, time.Duration, error) {}

type noopSpan struct{}

func (noopSpan) End(error) {}

// LogTracer is a Tracer writing spans and records through a StructuredLogger.
type LogTracer struct {
	*StructuredLogger
	seq atomic.Int64
}

// NewTracer creates a LogTracer. A nil logger uses the default configuration.
func NewTracer(l *StructuredLogger) *LogTracer {
	if l == nil {
		l = NewLogger(nil)
	}
	return &LogTracer{StructuredLogger: l.WithComponent("tracer")}
}

type spanKey struct{}

// StartSpan logs span.start and returns a span logging span.end with its duration.
// Nested spans record their parent id.
func (t *LogTracer) StartSpan(ctx context.Context, name string, attrs ...any) (context.Context, Span) {
	id := t.seq.Add(1)
	parent, _ := ctx.Value(spanKey{}).(int64)

	args := append([]any{"span", name, "span_id", id, "parent_id", parent}, attrs...)
	t.Debug("span.start", args...)

	return context.WithValue(ctx, spanKey{}, id), &logSpan{tracer: t, name: name, id: id, start: time.Now()}
}

// RecordLLMCall logs a model call record.
func (t *LogTracer) RecordLLMCall(model string, tokens int, dur time.Duration, err error) {
	t.LogLLMCall(model, tokens, dur, err == nil, err)
}

// RecordToolCall logs a tool call record.
func (t *LogTracer) RecordToolCall(tool string, dur time.Duration, err error) {
	t.LogToolCall(tool, dur, err == nil, err)
}

type logSpan struct {
	tracer *LogTracer
	name   string
	id     int64
	start  time.Time
	ended  atomic.Bool
}

func (s *logSpan) End(err error) {
	if !s.ended.CompareAndSwap(false, true) {
		return
	}
	args := []any{"span", s.name, "span_id", s.id, "duration_ms", time.Since(s.start).Milliseconds()}
	if err != nil {
		s.tracer.Warn("span.end", append(args, "error", err.Error())...)
		return
	}
	s.tracer.Debug("span.end", args...)
}
