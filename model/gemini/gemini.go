// Package gemini provides a streaming model.Model for the Gemini
// generateContent REST API, consumed as server-sent events.
package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/internal/transport"
	"github.com/hupe1980/agentstream/model"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultBaseURL is the public Gemini API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// Options configures the Gemini model adapter.
type Options struct {
	Model      string
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	// Defaults applied before request options.
	Defaults model.GenerateOptions
	// ServerTools are raw tool entries executed by the vendor, for example
	// {"googleSearch": {}}. They never surface as tool-call chunks.
	ServerTools []map[string]any
}

// Model talks to Gemini over raw HTTP.
type Model struct {
	tr   *transport.Client
	opts Options
}

// NewModel creates a Gemini model. It fails only on an unparsable base URL.
func NewModel(optFns ...func(o *Options)) (*Model, error) {
	opts := Options{
		Model:   "gemini-2.0-flash",
		BaseURL: DefaultBaseURL,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	tr, err := transport.New(opts.BaseURL, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	if opts.APIKey != "" {
		tr.DefaultHeaders.Set("x-goog-api-key", opts.APIKey)
	}
	return &Model{tr: tr, opts: opts}, nil
}

// Stream implements model.Model.
func (m *Model) Stream(ctx context.Context, req model.Request) model.ChunkStream {
	open := func(ctx context.Context) (model.EventSource[gjson.Result], error) {
		body, err := m.buildBody(req)
		if err != nil {
			return nil, err
		}
		path := fmt.Sprintf("/v1beta/models/%s:streamGenerateContent?alt=sse", url.PathEscape(m.opts.Model))
		resp, err := m.tr.PostStream(ctx, path, nil, body)
		if err != nil {
			return nil, err
		}
		return transport.NewSSESource(resp), nil
	}
	return model.NewStream(ctx, req.Timeout, open, &translator{})
}

// optionTable is the canonical option translation table for Gemini.
var optionTable = []struct {
	path  string
	value func(o model.GenerateOptions) (any, bool)
}{
	{"generationConfig.temperature", func(o model.GenerateOptions) (any, bool) { return deref(o.Temperature) }},
	{"generationConfig.topP", func(o model.GenerateOptions) (any, bool) { return deref(o.TopP) }},
	{"generationConfig.maxOutputTokens", func(o model.GenerateOptions) (any, bool) { return o.MaxTokens, o.MaxTokens > 0 }},
	{"generationConfig.stopSequences", func(o model.GenerateOptions) (any, bool) { return o.Stop, len(o.Stop) > 0 }},
}

func deref(v *float64) (any, bool) {
	if v == nil {
		return nil, false
	}
	return *v, true
}

func (m *Model) buildBody(req model.Request) ([]byte, error) {
	body := []byte(`{}`)
	var err error

	set := func(path string, v any) {
		if err == nil {
			body, err = sjson.SetBytes(body, path, v)
		}
	}

	set("contents", buildContents(req.Messages))
	if req.SystemPrompt != "" {
		set("systemInstruction.parts.0.text", req.SystemPrompt)
	}

	for _, opt := range [...]model.GenerateOptions{m.opts.Defaults, req.Options} {
		for _, entry := range optionTable {
			if v, ok := entry.value(opt); ok {
				set(entry.path, v)
			}
		}
	}

	var tools []any
	if len(req.Tools) > 0 {
		decls := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			d := map[string]any{"name": t.Name, "description": t.Description}
			if len(t.Parameters) > 0 {
				d["parameters"] = t.Parameters
			}
			decls = append(decls, d)
		}
		tools = append(tools, map[string]any{"functionDeclarations": decls})
	}
	for _, st := range m.opts.ServerTools {
		tools = append(tools, st)
	}
	if len(tools) > 0 {
		set("tools", tools)
	}

	return body, err
}

func buildContents(history []core.Message) []map[string]any {
	contents := make([]map[string]any, 0, len(history))
	for _, msg := range history {
		if msg.Role == core.RoleSystem {
			continue
		}
		role := "user"
		if msg.Role == core.RoleAssistant {
			role = "model"
		}
		parts := make([]map[string]any, 0, len(msg.Parts))
		for _, p := range msg.Parts {
			switch part := p.(type) {
			case core.TextPart:
				parts = append(parts, map[string]any{"text": part.Text})
			case core.ThinkingPart:
				if part.Signature != "" {
					parts = append(parts, map[string]any{"text": part.Text, "thought": true, "thoughtSignature": part.Signature})
				}
			case core.FilePart:
				if len(part.Data) > 0 {
					parts = append(parts, map[string]any{"inlineData": map[string]any{
						"mimeType": part.MimeType,
						"data":     base64.StdEncoding.EncodeToString(part.Data),
					}})
				} else {
					parts = append(parts, map[string]any{"fileData": map[string]any{"mimeType": part.MimeType, "fileUri": part.URI}})
				}
			case core.ToolCallPart:
				parts = append(parts, map[string]any{"functionCall": map[string]any{
					"id": part.ToolCall.ID, "name": part.ToolCall.Name, "args": model.ArgumentsObject(part.ToolCall.Arguments),
				}})
			case core.ToolResultPart:
				r := part.ToolResult
				response := map[string]any{"content": r.Text()}
				if r.IsError {
					response = map[string]any{"error": r.Text()}
				}
				parts = append(parts, map[string]any{"functionResponse": map[string]any{
					"id": r.ID, "name": r.Name, "response": response,
				}})
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, map[string]any{"role": role, "parts": parts})
	}
	return contents
}

// translator maps streamGenerateContent payloads to canonical chunks.
// Function calls arrive complete, so each is started, filled and ended in
// one step under its own key.
type translator struct {
	calls int
}

func (t *translator) Translate(ev gjson.Result, emit *model.Emitter) error {
	if e := ev.Get("error"); e.Exists() {
		msg := e.Get("message").String()
		if msg == "" {
			msg = e.Raw
		}
		return errors.New(msg)
	}

	if u := ev.Get("usageMetadata"); u.Exists() {
		emit.InputTokens(int(u.Get("promptTokenCount").Int()))
		emit.OutputTokens(int(u.Get("candidatesTokenCount").Int() + u.Get("thoughtsTokenCount").Int()))
	}

	cand := ev.Get("candidates.0")
	for _, part := range cand.Get("content.parts").Array() {
		switch {
		case part.Get("functionCall").Exists():
			fc := part.Get("functionCall")
			key := fmt.Sprintf("call:%d", t.calls)
			t.calls++
			emit.StartToolCall(key, fc.Get("id").String(), fc.Get("name").String())
			args := fc.Get("args").Raw
			if args == "" {
				args = "{}"
			}
			emit.ToolCallArgs(key, args)
			emit.EndPart(key)
		case part.Get("thought").Bool():
			emit.Thinking("thought", part.Get("text").String(), part.Get("thoughtSignature").String())
		case part.Get("text").Exists():
			emit.Text("text", part.Get("text").String())
		}
	}

	switch reason := cand.Get("finishReason").String(); reason {
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return fmt.Errorf("generation stopped: %s", reason)
	}
	if br := ev.Get("promptFeedback.blockReason"); br.Exists() {
		return fmt.Errorf("prompt blocked: %s", br.String())
	}
	return nil
}

// Info returns metadata describing this Gemini model implementation.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: "gemini", SupportsTools: true}
}
