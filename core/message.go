package core

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message holds role + ordered parts. A conversation history is an
// append-only []Message owned by exactly one turn loop at a time.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"-"`
}

// NewUserMessage creates a user message with a single text part.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart{Text: text}}}
}

// NewToolResultMessage wraps results into a single tool message.
func NewToolResultMessage(results ...ToolResult) Message {
	parts := make([]Part, 0, len(results))
	for _, r := range results {
		parts = append(parts, ToolResultPart{ToolResult: r})
	}
	return Message{Role: RoleTool, Parts: parts}
}

// Text concatenates all text parts.
func (m Message) Text() string { return textOf(m.Parts) }

// ToolCalls returns the tool calls in declaration order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if tc, ok := p.(ToolCallPart); ok {
			calls = append(calls, tc.ToolCall)
		}
	}
	return calls
}

// ToolResults returns the tool results in order.
func (m Message) ToolResults() []ToolResult {
	var results []ToolResult
	for _, p := range m.Parts {
		if tr, ok := p.(ToolResultPart); ok {
			results = append(results, tr.ToolResult)
		}
	}
	return results
}

// CloneMessages returns a copy of the history slice. Parts are values and
// shared safely.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		parts := make([]Part, len(m.Parts))
		copy(parts, m.Parts)
		out[i] = Message{Role: m.Role, Parts: parts}
	}
	return out
}
