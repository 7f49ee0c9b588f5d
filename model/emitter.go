package model

import (
	"github.com/hupe1980/agentstream/core"
)

type partState struct {
	kind core.PartType
	open bool
	id   string
}

// Emitter turns vendor level signals into canonical chunks. Translators
// address parts with vendor keys (a content block index, a tool call index,
// a synthetic "text" key); the emitter assigns canonical indices in order of
// first appearance and tracks which parts are still open so ends can be
// synthesized when the vendor only signals a stream level stop.
type Emitter struct {
	pending  []core.Chunk
	keys     map[string]int
	parts    []partState
	usage    core.Usage
	hasUsage bool
	finished bool
}

func (e *Emitter) part(key string, kind core.PartType) (int, bool) {
	if e.keys == nil {
		e.keys = map[string]int{}
	}
	if idx, ok := e.keys[key]; ok && e.parts[idx].open && e.parts[idx].kind == kind {
		return idx, false
	}
	idx := len(e.parts)
	e.parts = append(e.parts, partState{kind: kind, open: true})
	e.keys[key] = idx
	return idx, true
}

func (e *Emitter) push(c core.Chunk) {
	if e.finished {
		return
	}
	e.pending = append(e.pending, c)
}

// Text appends a text fragment to the text part addressed by key.
func (e *Emitter) Text(key, text string) {
	if text == "" {
		return
	}
	idx, _ := e.part(key, core.PartTypeText)
	e.push(core.TextDelta(idx, text))
}

// Thinking appends a reasoning fragment to the thinking part addressed by key.
func (e *Emitter) Thinking(key, text, signature string) {
	if text == "" && signature == "" {
		return
	}
	idx, _ := e.part(key, core.PartTypeThinking)
	e.push(core.ThinkingDelta(idx, text, signature))
}

// StartToolCall opens a tool call part. An empty id is replaced by a
// generated correlation id.
func (e *Emitter) StartToolCall(key, id, name string) {
	if id == "" {
		id = core.NewID()
	}
	if idx, ok := e.keys[key]; ok && e.parts[idx].open {
		e.closePart(idx)
	}
	idx, _ := e.part(key, core.PartTypeToolCall)
	e.parts[idx].id = id
	e.push(core.ToolCallStart(idx, id, name))
}

// ToolCallArgs appends a raw argument fragment. Fragments are concatenated,
// never parsed.
func (e *Emitter) ToolCallArgs(key, fragment string) {
	if fragment == "" {
		return
	}
	idx, ok := e.keys[key]
	if !ok || !e.parts[idx].open || e.parts[idx].kind != core.PartTypeToolCall {
		return
	}
	e.push(core.ToolCallDelta(idx, fragment))
}

// EndPart closes the part addressed by key. Unknown or closed keys are ignored.
func (e *Emitter) EndPart(key string) {
	idx, ok := e.keys[key]
	if !ok {
		return
	}
	e.closePart(idx)
}

func (e *Emitter) closePart(idx int) {
	p := &e.parts[idx]
	if !p.open {
		return
	}
	p.open = false
	switch p.kind {
	case core.PartTypeText:
		e.push(core.TextEnd(idx))
	case core.PartTypeToolCall:
		e.push(core.ToolCallEnd(idx, p.id))
	}
}

// IsOpen reports whether the part addressed by key is open.
func (e *Emitter) IsOpen(key string) bool {
	idx, ok := e.keys[key]
	return ok && e.parts[idx].open
}

// InputTokens records the latest cumulative input token count.
func (e *Emitter) InputTokens(n int) {
	if n <= 0 {
		return
	}
	e.usage.InputTokens = n
	e.hasUsage = true
}

// OutputTokens records the latest cumulative output token count.
func (e *Emitter) OutputTokens(n int) {
	if n <= 0 {
		return
	}
	e.usage.OutputTokens = n
	e.hasUsage = true
}

// Finish closes all open parts in index order, emits the usage chunk if any
// counts were reported and then the done chunk. Later calls are no-ops.
func (e *Emitter) Finish() {
	if e.finished {
		return
	}
	for i := range e.parts {
		e.closePart(i)
	}
	if e.hasUsage {
		e.push(core.UsageChunk(e.usage))
	}
	e.push(core.DoneChunk())
	e.finished = true
}

// Fail emits a terminal error chunk.
func (e *Emitter) Fail(err *core.Error) {
	if e.finished {
		return
	}
	e.push(core.ErrorChunk(err))
	e.finished = true
}

// Finished reports whether a terminal chunk has been queued.
func (e *Emitter) Finished() bool { return e.finished }

func (e *Emitter) pop() (core.Chunk, bool) {
	if len(e.pending) == 0 {
		return core.Chunk{}, false
	}
	c := e.pending[0]
	e.pending = e.pending[1:]
	return c, true
}

func (e *Emitter) drop() { e.pending = nil }
