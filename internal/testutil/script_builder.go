package testutil

import (
	"github.com/hupe1980/agentstream/core"
)

// ScriptBuilder provides a fluent helper for constructing chunk scripts
// replayed by model.ScriptedModel.
// Example:
//
//	script := testutil.NewScript().Text(0, "Hello", " world").ToolCall(1, "c1", "setName", `{"name":"Bob"}`).Done()
//
// Indices are used verbatim so interleaved and malformed sequences can be
// expressed.
type ScriptBuilder struct {
	chunks []core.Chunk
	ids    map[int]string
}

// NewScript creates an empty builder.
func NewScript() *ScriptBuilder { return &ScriptBuilder{} }

// TextDeltas appends text deltas for index without closing the part (chainable).
func (b *ScriptBuilder) TextDeltas(index int, fragments ...string) *ScriptBuilder {
	for _, f := range fragments {
		b.chunks = append(b.chunks, core.TextDelta(index, f))
	}
	return b
}

// Text appends text deltas followed by text-end (chainable).
func (b *ScriptBuilder) Text(index int, fragments ...string) *ScriptBuilder {
	b.TextDeltas(index, fragments...)
	b.chunks = append(b.chunks, core.TextEnd(index))
	return b
}

// Thinking appends reasoning deltas; the signature rides on the last one (chainable).
func (b *ScriptBuilder) Thinking(index int, signature string, fragments ...string) *ScriptBuilder {
	for i, f := range fragments {
		sig := ""
		if i == len(fragments)-1 {
			sig = signature
		}
		b.chunks = append(b.chunks, core.ThinkingDelta(index, f, sig))
	}
	return b
}

// OpenToolCall appends a tool-call start and argument fragments without
// tool-call-end (chainable).
func (b *ScriptBuilder) OpenToolCall(index int, id, name string, argFragments ...string) *ScriptBuilder {
	if b.ids == nil {
		b.ids = map[int]string{}
	}
	b.ids[index] = id
	b.chunks = append(b.chunks, core.ToolCallStart(index, id, name))
	for _, f := range argFragments {
		b.chunks = append(b.chunks, core.ToolCallDelta(index, f))
	}
	return b
}

// ToolCall appends a complete tool call (chainable).
func (b *ScriptBuilder) ToolCall(index int, id, name string, argFragments ...string) *ScriptBuilder {
	b.OpenToolCall(index, id, name, argFragments...)
	return b.EndToolCall(index)
}

// EndToolCall appends tool-call-end for index, carrying the id of the most
// recent start at that index (chainable).
func (b *ScriptBuilder) EndToolCall(index int) *ScriptBuilder {
	b.chunks = append(b.chunks, core.ToolCallEnd(index, b.ids[index]))
	return b
}

// Usage appends a usage report (chainable).
func (b *ScriptBuilder) Usage(input, output int) *ScriptBuilder {
	b.chunks = append(b.chunks, core.UsageChunk(core.Usage{InputTokens: input, OutputTokens: output}))
	return b
}

// Add appends arbitrary chunks (chainable).
func (b *ScriptBuilder) Add(chunks ...core.Chunk) *ScriptBuilder {
	b.chunks = append(b.chunks, chunks...)
	return b
}

// Build returns the chunks without a terminal chunk.
func (b *ScriptBuilder) Build() []core.Chunk {
	out := make([]core.Chunk, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// Done returns the chunks terminated by done.
func (b *ScriptBuilder) Done() []core.Chunk {
	return append(b.Build(), core.DoneChunk())
}

// Fail returns the chunks terminated by an error chunk of the given kind.
func (b *ScriptBuilder) Fail(kind core.ErrorKind, msg string) []core.Chunk {
	return append(b.Build(), core.ErrorChunk(core.NewError(kind, "%s", msg)))
}
