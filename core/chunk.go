package core

// ChunkType enumerates the canonical streaming chunk kinds.
type ChunkType string

const (
	ChunkTextDelta     ChunkType = "text-delta"
	ChunkTextEnd       ChunkType = "text-end"
	ChunkToolCallStart ChunkType = "tool-call-start"
	ChunkToolCallDelta ChunkType = "tool-call-delta"
	ChunkToolCallEnd   ChunkType = "tool-call-end"
	ChunkThinkingDelta ChunkType = "thinking-delta"
	ChunkUsage         ChunkType = "usage"
	ChunkError         ChunkType = "error"
	ChunkDone          ChunkType = "done"
)

// Chunk is the vendor-neutral unit emitted by every model adapter. Index
// identifies the logical part within the current assistant turn; indices
// are assigned in order of first appearance starting at zero.
type Chunk struct {
	Type       ChunkType
	Index      int
	Text       string // text-delta, thinking-delta, tool-call-delta (argument fragment)
	Signature  string // thinking-delta: opaque vendor signature, if any
	ToolCallID string // tool-call-start, tool-call-end (optional on end)
	ToolName   string // tool-call-start
	Usage      *Usage // usage: a delta added to the turn's running total
	Err        *Error // error
}

// TextDelta creates a text-delta chunk.
func TextDelta(index int, text string) Chunk {
	return Chunk{Type: ChunkTextDelta, Index: index, Text: text}
}

// TextEnd creates a text-end chunk.
func TextEnd(index int) Chunk { return Chunk{Type: ChunkTextEnd, Index: index} }

// ToolCallStart creates a tool-call-start chunk.
func ToolCallStart(index int, id, name string) Chunk {
	return Chunk{Type: ChunkToolCallStart, Index: index, ToolCallID: id, ToolName: name}
}

// ToolCallDelta creates a tool-call-delta chunk carrying a raw argument fragment.
func ToolCallDelta(index int, fragment string) Chunk {
	return Chunk{Type: ChunkToolCallDelta, Index: index, Text: fragment}
}

// ToolCallEnd creates a tool-call-end chunk. id must match the id of the
// corresponding tool-call-start; an empty id skips the check.
func ToolCallEnd(index int, id string) Chunk {
	return Chunk{Type: ChunkToolCallEnd, Index: index, ToolCallID: id}
}

// ThinkingDelta creates a thinking-delta chunk.
func ThinkingDelta(index int, text, signature string) Chunk {
	return Chunk{Type: ChunkThinkingDelta, Index: index, Text: text, Signature: signature}
}

// UsageChunk creates a usage chunk. Consumers sum the usage chunks of a
// turn, so adapters reporting cumulative counts emit them once.
func UsageChunk(u Usage) Chunk { return Chunk{Type: ChunkUsage, Usage: &u} }

// ErrorChunk creates an error chunk.
func ErrorChunk(err *Error) Chunk { return Chunk{Type: ChunkError, Err: err} }

// DoneChunk creates the terminal done chunk.
func DoneChunk() Chunk { return Chunk{Type: ChunkDone} }

// IsTerminal reports whether c ends a stream.
func (c Chunk) IsTerminal() bool { return c.Type == ChunkDone || c.Type == ChunkError }

// Usage reports token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add returns the element-wise sum.
func (u Usage) Add(o Usage) Usage {
	return Usage{InputTokens: u.InputTokens + o.InputTokens, OutputTokens: u.OutputTokens + o.OutputTokens}
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }
