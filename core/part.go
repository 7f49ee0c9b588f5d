package core

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// PartType names the concrete kind of a Part.
type PartType string

const (
	PartTypeText       PartType = "text"
	PartTypeFile       PartType = "file"
	PartTypeThinking   PartType = "thinking"
	PartTypeToolCall   PartType = "tool-call"
	PartTypeToolResult PartType = "tool-result"
)

// TextPart is a plain text content segment.
type TextPart struct {
	Text string
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// FilePart is a binary attachment (image, document). Either Data or URI is set.
type FilePart struct {
	MimeType string
	Data     []byte // Inlined contents
	URI      string // External retrieval URI (if not inlined)
	Name     string // Original filename hint
}

// isPart implements the Part interface for FilePart.
func (FilePart) isPart() {}

// ThinkingPart carries model reasoning. Signature is an opaque vendor token
// that must be echoed back unchanged on the next request.
type ThinkingPart struct {
	Text      string
	Signature string
}

// isPart implements the Part interface for ThinkingPart.
func (ThinkingPart) isPart() {}

// ToolCall describes a tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`                  // Correlation id echoed by the tool result
	Name      string `json:"name"`                // Tool name
	Arguments string `json:"arguments,omitempty"` // Raw JSON argument text
}

// ToolCallPart wraps a ToolCall as a content part.
type ToolCallPart struct {
	ToolCall ToolCall
}

// isPart implements the Part interface for ToolCallPart.
func (ToolCallPart) isPart() {}

// ToolResult is the outcome of executing one ToolCall.
type ToolResult struct {
	ID      string    `json:"id"`   // Matches originating ToolCall ID
	Name    string    `json:"name"` // Tool name
	Parts   []Part    `json:"-"`    // Normalized output
	IsError bool      `json:"is_error,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"` // Failure kind when IsError
}

// Text concatenates the text parts of the result.
func (r ToolResult) Text() string {
	return textOf(r.Parts)
}

// ToolResultPart wraps a ToolResult as a content part.
type ToolResultPart struct {
	ToolResult ToolResult
}

// isPart implements the Part interface for ToolResultPart.
func (ToolResultPart) isPart() {}

// PartTypeOf reports the PartType of p, or "" for unknown implementations.
func PartTypeOf(p Part) PartType {
	switch p.(type) {
	case TextPart:
		return PartTypeText
	case FilePart:
		return PartTypeFile
	case ThinkingPart:
		return PartTypeThinking
	case ToolCallPart:
		return PartTypeToolCall
	case ToolResultPart:
		return PartTypeToolResult
	default:
		return ""
	}
}

func textOf(parts []Part) string {
	var out string
	for _, p := range parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}
