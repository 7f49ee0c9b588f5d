package tool

import (
	"fmt"
	"sort"

	"github.com/hupe1980/agentstream/core"
)

// StateManagerTool lets the model read and write the run scratchpad shared
// by all tool invocations of one run (see core.RunState).
type StateManagerTool struct {
	name        string
	description string
}

// NewStateManagerTool creates a new state management tool.
func NewStateManagerTool() *StateManagerTool {
	return &StateManagerTool{
		name: "state_manager",
		description: "Reads and writes values shared across tool calls of the current run. " +
			"Supports operations: get_state, set_state, list_state.",
	}
}

// Name returns the tool identifier.
func (t *StateManagerTool) Name() string {
	return t.name
}

// Description returns the tool description.
func (t *StateManagerTool) Description() string {
	return t.description
}

// Schema returns the argument schema.
func (t *StateManagerTool) Schema() Schema {
	return MapSchema{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type":        "string",
				"enum":        []string{"get_state", "set_state", "list_state"},
				"description": "The state operation to perform",
			},
			"key": map[string]any{
				"type":        "string",
				"description": "State key for get_state/set_state operations",
			},
			"value": map[string]any{
				"description": "Value for set_state operations (any type)",
			},
		},
		"required": []string{"operation"},
	}
}

// Call implements the Tool interface.
func (t *StateManagerTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	operation, _ := args["operation"].(string)

	switch operation {
	case "get_state":
		key, err := requireKey(args)
		if err != nil {
			return nil, err
		}
		value, exists := toolCtx.GetState(key)
		return map[string]any{"key": key, "value": value, "exists": exists}, nil
	case "set_state":
		key, err := requireKey(args)
		if err != nil {
			return nil, err
		}
		value, ok := args["value"]
		if !ok {
			return nil, NewToolError(t.name, "value is required for set_state", "MISSING_VALUE")
		}
		toolCtx.SetState(key, value)
		return map[string]any{"key": key, "value": value}, nil
	case "list_state":
		snapshot := toolCtx.StateSnapshot()
		keys := make([]string, 0, len(snapshot))
		for k := range snapshot {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return map[string]any{"keys": keys}, nil
	default:
		return nil, NewToolError(t.name, fmt.Sprintf("unknown operation %q", operation), "UNKNOWN_OPERATION")
	}
}

func requireKey(args map[string]any) (string, error) {
	key, _ := args["key"].(string)
	if key == "" {
		return "", NewToolError("state_manager", "key is required", "MISSING_KEY")
	}
	return key, nil
}
