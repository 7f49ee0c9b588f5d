package tool

import (
	"errors"
	"time"

	"github.com/hupe1980/agentstream/core"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a tool.
//
// Responsibilities:
//   - Holds the argument Schema announced to the model
//   - Invokes the wrapped function with a *core.ToolContext giving access to
//     the run scratchpad, logging and the call correlation id
//   - Normalizes error handling so callers receive *ToolError with consistent codes:
//     EXECUTION_ERROR -> underlying function returned an error (non-ToolError)
//     (custom codes preserved if the function returns *ToolError directly)
//
// Argument validation is the dispatcher's job; Call trusts its input.
//
// Concurrency:
//
//	A FunctionTool has no internal mutable state after construction and is safe for
//	concurrent use by multiple goroutines.
type FunctionTool struct {
	// Tool identifier (camelCase or snake_case)
	name string
	// Human-readable description shown to models
	description string
	// Argument schema
	schema Schema
	// User supplied implementation
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from an explicit JSON-schema map.
//
// Example:
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(tc *core.ToolContext, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	return NewFunctionToolWithSchema(name, description, MapSchema(parameters), fn)
}

// NewFunctionToolWithSchema constructs a FunctionTool from any Schema implementation.
func NewFunctionToolWithSchema(
	name, description string,
	schema Schema,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		schema:      schema,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the argument schema from a struct using
// reflection (see SchemaFor).
//
// Example:
//
//	type SumArgs struct {
//	  A float64 `json:"a" jsonschema:"description=First addend"`
//	  B float64 `json:"b" jsonschema:"description=Second addend"`
//	}
//
//	sumTool := NewFunctionToolFromStruct("calculate_sum", "Calculate the sum of two numbers", SumArgs{}, fn)
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	return NewFunctionToolWithSchema(name, description, SchemaFor(structType), fn)
}

// Name returns the unique tool name used in function call declarations and routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Schema returns the argument schema.
func (t *FunctionTool) Schema() Schema {
	if t.schema == nil {
		return MapSchema(nil)
	}
	return t.schema
}

// Call invokes the underlying function. Execution failures are wrapped (or
// passed through) as *ToolError for uniform downstream handling. Records go
// to the tool context logger, which already carries the tool name and call id.
func (t *FunctionTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	logger := toolCtx.Logger()
	start := time.Now()

	result, err := t.fn(toolCtx, args)
	if err != nil {
		var toolErr *ToolError
		if !errors.As(err, &toolErr) {
			toolErr = &ToolError{Tool: t.name, Message: err.Error(), Code: "EXECUTION_ERROR"}
		}
		logger.Warn("tool.function.error", "code", toolErr.Code, "error", toolErr.Message)
		return nil, toolErr
	}

	logger.Debug("tool.function.done", "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}
