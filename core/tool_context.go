package core

import (
	"context"
	"sync"

	"github.com/hupe1980/agentstream/logging"
)

// RunState is a concurrency-safe key/value scratchpad shared by all tool
// invocations of one run.
type RunState struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewRunState creates an empty RunState.
func NewRunState() *RunState {
	return &RunState{data: map[string]any{}}
}

// Get returns the value stored under k.
func (s *RunState) Get(k string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[k]
	return v, ok
}

// Set stores v under k.
func (s *RunState) Set(k string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[k] = v
}

// Snapshot returns a shallow copy of the state.
func (s *RunState) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// ToolContext provides a constrained surface for tool implementations
// invoked by the dispatcher: the invocation context, correlation ids, the
// run scratchpad and a logger.
type ToolContext struct {
	ctx      context.Context
	runID    string
	callID   string
	toolName string
	state    *RunState
	logger   *callLogger
}

// NewToolContext constructs a tool context for a single invocation.
// A nil state or logger is replaced with an empty one.
func NewToolContext(ctx context.Context, runID, callID, toolName string, state *RunState, logger logging.Logger) *ToolContext {
	if state == nil {
		state = NewRunState()
	}
	return &ToolContext{
		ctx:      ctx,
		runID:    runID,
		callID:   callID,
		toolName: toolName,
		state:    state,
		logger:   newCallLogger(logger, runID, toolName, callID),
	}
}

// Context returns the context associated with the tool invocation. It is
// not cancelled when the caller cancels the run; only the tool timeout
// bounds it.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// RunID returns the run ID associated with the tool invocation.
func (tc *ToolContext) RunID() string { return tc.runID }

// CallID returns the tool call correlation id.
func (tc *ToolContext) CallID() string { return tc.callID }

// ToolName returns the name of the invoked tool.
func (tc *ToolContext) ToolName() string { return tc.toolName }

// Logger returns a logger whose records carry the run id, tool name and
// call id of this invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

// GetState retrieves a run scoped value.
func (tc *ToolContext) GetState(k string) (any, bool) { return tc.state.Get(k) }

// SetState records a run scoped value visible to later tool calls.
func (tc *ToolContext) SetState(k string, v any) {
	tc.state.Set(k, v)
	tc.logger.Debug("tool.state.set", "key", k)
}

// StateSnapshot returns a copy of the run scratchpad.
func (tc *ToolContext) StateSnapshot() map[string]any { return tc.state.Snapshot() }
