package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hupe1980/agentstream/core"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// TypedTool exposes a function taking a typed argument struct. The schema is
// reflected from T, and arguments are decoded into T and checked against its
// `validate` struct tags before the function runs.
type TypedTool[T any] struct {
	name        string
	description string
	schema      typedSchema[T]
	fn          func(toolCtx *core.ToolContext, args T) (any, error)
}

// NewTypedTool creates a TypedTool.
//
// Example:
//
//	type WeatherArgs struct {
//	  City string `json:"city" validate:"required" jsonschema:"description=City name"`
//	  Unit string `json:"unit,omitempty" validate:"omitempty,oneof=c f"`
//	}
//
//	weather := NewTypedTool("getWeather", "Get the current weather", func(tc *core.ToolContext, a WeatherArgs) (any, error) {
//	  return lookup(a.City, a.Unit)
//	})
func NewTypedTool[T any](name, description string, fn func(toolCtx *core.ToolContext, args T) (any, error)) *TypedTool[T] {
	var zero T
	return &TypedTool[T]{
		name:        name,
		description: description,
		schema:      typedSchema[T]{base: SchemaFor(zero)},
		fn:          fn,
	}
}

// Name implements Tool.
func (t *TypedTool[T]) Name() string { return t.name }

// Description implements Tool.
func (t *TypedTool[T]) Description() string { return t.description }

// Schema implements Tool.
func (t *TypedTool[T]) Schema() Schema { return t.schema }

// Call decodes args into T and invokes the wrapped function.
func (t *TypedTool[T]) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	v, err := decode[T](args)
	if err != nil {
		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: "VALIDATION_ERROR", Details: err}
	}
	return t.fn(toolCtx, v)
}

type typedSchema[T any] struct {
	base MapSchema
}

func (s typedSchema[T]) Describe() map[string]any { return s.base.Describe() }

func (s typedSchema[T]) Validate(v any) error {
	if err := s.base.Validate(v); err != nil {
		return err
	}
	args, ok := v.(map[string]any)
	if !ok {
		return &ValidationError{Value: v, Message: "arguments must be an object"}
	}
	_, err := decode[T](args)
	return err
}

func decode[T any](args map[string]any) (T, error) {
	var v T
	raw, err := json.Marshal(args)
	if err != nil {
		return v, fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode arguments: %w", err)
	}
	if err := structValidator.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return v, nil // T is not a struct; nothing to check
		}
		return v, validationMessage(err)
	}
	return v, nil
}

func validationMessage(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return err
	}
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
	}
	return &ValidationError{Field: errs[0].Field(), Value: errs[0].Value(), Message: strings.Join(msgs, "; ")}
}
