package tool

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/invopop/jsonschema"
)

// Schema is the argument-schema capability every tool exposes. Describe
// returns the JSON-schema document sent to the model; Validate checks a
// decoded JSON value against it.
type Schema interface {
	Describe() map[string]any
	Validate(v any) error
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError struct {
	Field   string `json:"field"`   // Field that failed validation
	Value   any    `json:"value"`   // Value that was provided
	Message string `json:"message"` // Human-readable error message
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// MapSchema is a Schema backed by a plain JSON-schema map. Validation covers
// the subset models actually rely on: type, required, properties, items and
// enum, applied recursively.
type MapSchema map[string]any

// Describe implements Schema.
func (s MapSchema) Describe() map[string]any {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return s
}

// Validate implements Schema.
func (s MapSchema) Validate(v any) error {
	return validateValue("", v, s)
}

// SchemaFor derives a MapSchema from a Go value using struct reflection.
// Field names follow json tags; fields without omitempty are required and
// `jsonschema:"description=..."` tags are carried over.
func SchemaFor(v any) MapSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	raw, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return MapSchema{"type": "object", "properties": map[string]any{}}
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return MapSchema{"type": "object", "properties": map[string]any{}}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// ValidateParameters validates parameters against a JSON schema map.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	return validateValue("", params, schema)
}

func validateValue(field string, value any, schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	expectedType, _ := schema["type"].(string)
	if !isValidType(value, expectedType) {
		return &ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("expected type %s, got %s", expectedType, jsonTypeOf(value)),
		}
	}

	if enum := enumValues(schema["enum"]); enum != nil && value != nil && !slices.ContainsFunc(enum, func(e any) bool { return equalJSON(e, value) }) {
		return &ValidationError{Field: field, Value: value, Message: fmt.Sprintf("value must be one of %v", enum)}
	}

	switch v := value.(type) {
	case map[string]any:
		for _, req := range stringList(schema["required"]) {
			if _, exists := v[req]; !exists {
				return &ValidationError{
					Field:   join(field, req),
					Message: "required field is missing",
				}
			}
		}
		properties, _ := schema["properties"].(map[string]any)
		for name, fieldValue := range v {
			propSchema, ok := properties[name].(map[string]any)
			if !ok {
				continue // extra fields are allowed
			}
			if err := validateValue(join(field, name), fieldValue, propSchema); err != nil {
				return err
			}
		}
	case []any:
		items, ok := schema["items"].(map[string]any)
		if !ok {
			return nil
		}
		for i, item := range v {
			if err := validateValue(fmt.Sprintf("%s[%d]", field, i), item, items); err != nil {
				return err
			}
		}
	}

	return nil
}

func join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// stringList accepts both hand-written ([]string) and decoded ([]any) required lists.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func enumValues(v any) []any {
	switch list := v.(type) {
	case []any:
		return list
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out
	}
	return nil
}

func equalJSON(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ra) == string(rb)
}

func jsonTypeOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// isValidType checks if a value is valid according to the expected JSON schema type.
func isValidType(value any, expectedType string) bool {
	if value == nil {
		return true // nil is valid for any type
	}

	switch expectedType {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64: // JSON unmarshaling often produces float64 for numbers
			return v == float64(int64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
			float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true // Unknown types are assumed valid
	}
}
