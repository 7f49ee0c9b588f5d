// Package tool implements the function / tool calling subsystem: the Tool
// contract, argument schemas that can both validate and describe themselves,
// adapters for plain Go functions and typed argument structs, and an explicit
// caller-owned Registry consumed by the dispatcher.
package tool

import (
	"errors"
	"fmt"

	"github.com/hupe1980/agentstream/core"
)

// Tool defines the interface for extending agents with callable functions.
//
// Tools are identified externally by name, description and argument schema.
// The schema description is sent to the model; the dispatcher validates
// parsed arguments against the same schema before Call is invoked, so Call
// always receives arguments that passed Schema().Validate.
//
// Tool implementations must be safe for concurrent use: calls declared in
// the same assistant message run in parallel.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool does.
	Description() string

	// Schema returns the argument schema.
	Schema() Schema

	// Call executes the tool with validated arguments. The returned value is
	// normalized by the dispatcher: a string or core.Part / []core.Part is
	// kept as-is, nil yields an empty result and anything else is JSON
	// encoded.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// Configurable is implemented by tools that accept settings. Configure runs
// once, before the first call through a Registry.
type Configurable interface {
	Configure(settings map[string]any) error
}

// ErrDuplicateTool is returned when registering a name twice.
var ErrDuplicateTool = errors.New("tool already registered")

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
