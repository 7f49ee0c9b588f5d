package model

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/hupe1980/agentstream/core"
)

// ScriptedModel is a deterministic in-memory Model useful for tests and
// examples. Each Stream call replays the next chunk script verbatim; the
// scripts are not normalized, so malformed sequences can be reproduced.
type ScriptedModel struct {
	mu       sync.Mutex
	info     Info
	scripts  [][]core.Chunk
	requests []Request

	// Delay is slept before each chunk; the sleep honors cancellation.
	Delay time.Duration
}

// NewScriptedModel constructs a ScriptedModel replaying one script per turn.
func NewScriptedModel(scripts ...[]core.Chunk) *ScriptedModel {
	return &ScriptedModel{
		info:    Info{Name: "scripted", Provider: "scripted", SupportsTools: true},
		scripts: scripts,
	}
}

// AddScript appends a script for a later turn.
func (m *ScriptedModel) AddScript(chunks ...core.Chunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, chunks)
}

// Requests returns copies of the requests received so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	for i, r := range m.requests {
		r.Messages = core.CloneMessages(r.Messages)
		out[i] = r
	}
	return out
}

// Stream implements Model.
func (m *ScriptedModel) Stream(ctx context.Context, req Request) ChunkStream {
	m.mu.Lock()
	defer m.mu.Unlock()

	req.Messages = core.CloneMessages(req.Messages)
	turn := len(m.requests)
	m.requests = append(m.requests, req)

	var script []core.Chunk
	if turn < len(m.scripts) {
		script = m.scripts[turn]
	} else {
		script = []core.Chunk{core.ErrorChunk(core.NewError(core.ErrStreaming, "no script for turn %d", turn+1))}
	}
	return &scriptStream{ctx: ctx, chunks: script, delay: m.Delay}
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }

type scriptStream struct {
	ctx    context.Context
	chunks []core.Chunk
	pos    int
	delay  time.Duration
	closed bool
}

func (s *scriptStream) Next() (core.Chunk, error) {
	if s.closed || s.pos >= len(s.chunks) {
		return core.Chunk{}, io.EOF
	}
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		select {
		case <-t.C:
		case <-s.ctx.Done():
			t.Stop()
		}
	}
	if s.ctx.Err() != nil {
		s.closed = true
		return core.Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	if c.IsTerminal() {
		s.pos = len(s.chunks)
	}
	return c, nil
}

func (s *scriptStream) Close() error {
	s.closed = true
	return nil
}

// TextScript builds a script that streams text in the given fragments.
func TextScript(fragments ...string) []core.Chunk {
	out := make([]core.Chunk, 0, len(fragments)+2)
	for _, f := range fragments {
		out = append(out, core.TextDelta(0, f))
	}
	return append(out, core.TextEnd(0), core.DoneChunk())
}

// ToolCallScript builds a script declaring one complete tool call per call
// in order, with argument text delivered in a single fragment.
func ToolCallScript(calls ...core.ToolCall) []core.Chunk {
	out := make([]core.Chunk, 0, len(calls)*3+1)
	for i, c := range calls {
		out = append(out, core.ToolCallStart(i, c.ID, c.Name))
		if c.Arguments != "" {
			out = append(out, core.ToolCallDelta(i, c.Arguments))
		}
		out = append(out, core.ToolCallEnd(i, c.ID))
	}
	return append(out, core.DoneChunk())
}
