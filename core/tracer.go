package core

import "github.com/hupe1980/agentstream/logging"

// Tracer receives span boundaries and typed call records from the turn loop.
// It is declared in the logging package so logging backed tracers need no
// dependency on core.
type Tracer = logging.Tracer

// Span is an open tracing span.
type Span = logging.Span

// NoOpTracer discards everything.
type NoOpTracer = logging.NoOpTracer
