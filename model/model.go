package model

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/agentstream/core"
)

// ToolDefinition declaratively exposes a callable tool to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// GenerateOptions are the canonical sampling options. Each adapter maps
// them to vendor fields through a static translation table; unset values
// are omitted from the request.
type GenerateOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// Request captures the normalized model input produced by the turn loop.
type Request struct {
	SystemPrompt string           `json:"system_prompt,omitempty"`
	Messages     []core.Message   `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Options      GenerateOptions  `json:"options"`
	// Timeout bounds the whole request. Expiry surfaces as a STREAMING_ERROR
	// chunk, unlike caller cancellation which ends the stream silently.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "gemini", "ollama", ...
	SupportsTools bool   `json:"supports_tools"`
}

// ChunkStream is a pull based iterator over canonical chunks. Next returns
// io.EOF after the terminal chunk (done or error) and never returns any
// other error: failures are delivered as error chunks.
// Usage chunks are deltas; a consumer sums every usage chunk of a stream.
type ChunkStream interface {
	Next() (core.Chunk, error)
	Close() error
}

// Model is the provider streaming adapter contract.
type Model interface {
	// Stream starts a request. It never blocks and never fails directly;
	// connection problems surface on the first Next call.
	Stream(ctx context.Context, req Request) ChunkStream

	// Info returns information about the model implementation.
	Info() Info
}

// Float returns a pointer to v, for GenerateOptions fields.
func Float(v float64) *float64 { return &v }

// Collect drains s into a slice and closes it.
func Collect(s ChunkStream) ([]core.Chunk, error) {
	defer s.Close()
	var out []core.Chunk
	for {
		c, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
}

// ArgumentsObject decodes accumulated tool call arguments for APIs that
// require an object. Malformed or non-object text yields an empty object;
// the loop has already reported it back to the model as a tool result.
func ArgumentsObject(raw string) map[string]any {
	if !gjson.Valid(raw) {
		return map[string]any{}
	}
	if obj, ok := gjson.Parse(raw).Value().(map[string]any); ok {
		return obj
	}
	return map[string]any{}
}
