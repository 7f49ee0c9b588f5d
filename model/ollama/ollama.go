// Package ollama provides a streaming model.Model for a local Ollama
// runtime using its /api/chat endpoint (newline-delimited JSON).
package ollama

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/internal/transport"
	"github.com/hupe1980/agentstream/model"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultBaseURL is the default local runtime address.
const DefaultBaseURL = "http://localhost:11434"

// Options configures the Ollama model adapter.
type Options struct {
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	// Think requests reasoning output from models that support it.
	Think bool
	// KeepAlive controls how long the model stays loaded, e.g. "5m".
	KeepAlive string
	Defaults  model.GenerateOptions
}

// Model talks to an Ollama runtime over raw HTTP.
type Model struct {
	tr   *transport.Client
	opts Options
}

// NewModel creates an Ollama model. It fails only on an unparsable base URL.
func NewModel(optFns ...func(o *Options)) (*Model, error) {
	opts := Options{
		Model:   "llama3.2",
		BaseURL: DefaultBaseURL,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	tr, err := transport.New(opts.BaseURL, opts.HTTPClient)
	if err != nil {
		return nil, err
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
		resp, err := m.tr.PostStream(ctx, "/api/chat", nil, body)
		if err != nil {
			return nil, err
		}
		return transport.NewNDJSONSource(resp), nil
	}
	return model.NewStream(ctx, req.Timeout, open, &translator{})
}

// optionTable is the canonical option translation table for Ollama.
var optionTable = []struct {
	path  string
	value func(o model.GenerateOptions) (any, bool)
}{
	{"options.temperature", func(o model.GenerateOptions) (any, bool) { return deref(o.Temperature) }},
	{"options.top_p", func(o model.GenerateOptions) (any, bool) { return deref(o.TopP) }},
	{"options.num_predict", func(o model.GenerateOptions) (any, bool) { return o.MaxTokens, o.MaxTokens > 0 }},
	{"options.stop", func(o model.GenerateOptions) (any, bool) { return o.Stop, len(o.Stop) > 0 }},
}

func deref(v *float64) (any, bool) {
	if v == nil {
		return nil, false
	}
	return *v, true
}

func (m *Model) buildBody(req model.Request) ([]byte, error) {
	body := []byte(`{"stream":true}`)
	var err error
	set := func(path string, v any) {
		if err == nil {
			body, err = sjson.SetBytes(body, path, v)
		}
	}

	set("model", m.opts.Model)
	set("messages", buildMessages(req))
	if m.opts.Think {
		set("think", true)
	}
	if m.opts.KeepAlive != "" {
		set("keep_alive", m.opts.KeepAlive)
	}
	for _, opt := range [...]model.GenerateOptions{m.opts.Defaults, req.Options} {
		for _, entry := range optionTable {
			if v, ok := entry.value(opt); ok {
				set(entry.path, v)
			}
		}
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			})
		}
		set("tools", tools)
	}
	return body, err
}

func buildMessages(req model.Request) []map[string]any {
	var out []map[string]any
	if req.SystemPrompt != "" {
		out = append(out, map[string]any{"role": "system", "content": req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleTool:
			for _, r := range msg.ToolResults() {
				out = append(out, map[string]any{"role": "tool", "content": r.Text(), "tool_name": r.Name})
			}
		case core.RoleAssistant:
			entry := map[string]any{"role": "assistant", "content": msg.Text()}
			for _, p := range msg.Parts {
				if tp, ok := p.(core.ThinkingPart); ok {
					entry["thinking"] = tp.Text
				}
			}
			var calls []map[string]any
			for _, c := range msg.ToolCalls() {
				calls = append(calls, map[string]any{"function": map[string]any{"name": c.Name, "arguments": model.ArgumentsObject(c.Arguments)}})
			}
			if len(calls) > 0 {
				entry["tool_calls"] = calls
			}
			out = append(out, entry)
		default:
			entry := map[string]any{"role": string(msg.Role), "content": msg.Text()}
			var images []string
			for _, p := range msg.Parts {
				if fp, ok := p.(core.FilePart); ok && len(fp.Data) > 0 {
					images = append(images, base64.StdEncoding.EncodeToString(fp.Data))
				}
			}
			if len(images) > 0 {
				entry["images"] = images
			}
			out = append(out, entry)
		}
	}
	return out
}

// translator maps /api/chat lines to canonical chunks. Tool calls arrive
// complete and carry no id, so one is generated per call.
type translator struct {
	calls int
}

func (t *translator) Translate(ev gjson.Result, emit *model.Emitter) error {
	if e := ev.Get("error"); e.Exists() {
		return errors.New(e.String())
	}
	msg := ev.Get("message")
	if th := msg.Get("thinking").String(); th != "" {
		emit.Thinking("thinking", th, "")
	}
	if text := msg.Get("content").String(); text != "" {
		emit.Text("text", text)
	}
	for _, call := range msg.Get("tool_calls").Array() {
		key := fmt.Sprintf("call:%d", t.calls)
		t.calls++
		emit.StartToolCall(key, call.Get("id").String(), call.Get("function.name").String())
		args := call.Get("function.arguments").Raw
		if args == "" {
			args = "{}"
		}
		emit.ToolCallArgs(key, args)
		emit.EndPart(key)
	}
	if ev.Get("done").Bool() {
		emit.InputTokens(int(ev.Get("prompt_eval_count").Int()))
		emit.OutputTokens(int(ev.Get("eval_count").Int()))
		emit.Finish()
	}
	return nil
}

// Info returns metadata describing this Ollama model implementation.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: "ollama", SupportsTools: true}
}
