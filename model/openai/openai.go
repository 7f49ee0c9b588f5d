// Package openai provides a streaming model.Model using the OpenAI Chat
// Completions API (including tool calling). It adapts the normalized
// Request into the SDK's message format and translates streamed chunks
// back into canonical chunks.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"
)

const textKey = "text"

// Options configure the OpenAI model adapter.
// Sampling values act as defaults and are overridden by request options.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
	// BaseURL targets OpenAI compatible servers.
	BaseURL        string
	RequestOptions []option.RequestOption
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
}

// NewModel creates a new OpenAI model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	clientOpts := append([]option.RequestOption{}, opts.RequestOptions...)
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new OpenAI model from an existing client
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Stream implements model.Model.
func (m *Model) Stream(ctx context.Context, req model.Request) model.ChunkStream {
	open := func(ctx context.Context) (model.EventSource[openai.ChatCompletionChunk], error) {
		return m.client.Chat.Completions.NewStreaming(ctx, m.buildParams(req)), nil
	}
	return model.NewStream(ctx, req.Timeout, open, &translator{})
}

// buildMessages converts history into OpenAI chat messages. Each tool result
// becomes its own tool message following the assistant tool calls.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Text()))
		case core.RoleAssistant:
			messages = append(messages, buildAssistantMessage(msg))
		case core.RoleTool:
			for _, r := range msg.ToolResults() {
				messages = append(messages, openai.ToolMessage(toolResultText(r), r.ID))
			}
		default:
			messages = append(messages, buildUserMessage(msg))
		}
	}
	return messages
}

func toolResultText(r core.ToolResult) string {
	text := r.Text()
	if text == "" && r.IsError {
		return string(r.Kind)
	}
	return text
}

func buildUserMessage(msg core.Message) openai.ChatCompletionMessageParamUnion {
	var hasFile bool
	for _, p := range msg.Parts {
		if _, ok := p.(core.FilePart); ok {
			hasFile = true
			break
		}
	}
	if !hasFile {
		return openai.UserMessage(msg.Text())
	}
	var parts []openai.ChatCompletionContentPartUnionParam
	for _, p := range msg.Parts {
		switch part := p.(type) {
		case core.TextPart:
			parts = append(parts, openai.TextContentPart(part.Text))
		case core.FilePart:
			url := part.URI
			if len(part.Data) > 0 {
				url = fmt.Sprintf("data:%s;base64,%s", part.MimeType, base64.StdEncoding.EncodeToString(part.Data))
			}
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
		}
	}
	return openai.UserMessage(parts)
}

func buildAssistantMessage(msg core.Message) openai.ChatCompletionMessageParamUnion {
	calls := msg.ToolCalls()
	text := msg.Text()
	if len(calls) == 0 {
		return openai.AssistantMessage(text)
	}
	toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(calls))
	for _, c := range calls {
		args := c.Arguments
		if args == "" {
			args = "{}"
		}
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   c.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      c.Name,
				Arguments: args,
			},
		})
	}
	asst := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
	if text != "" {
		asst.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
		StreamOptions:       openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)},
	}
	applyOptions(&params, req.Options)
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// applyOptions is the canonical option translation table for OpenAI.
func applyOptions(params *openai.ChatCompletionNewParams, o model.GenerateOptions) {
	if o.Temperature != nil {
		params.Temperature = openai.Float(*o.Temperature)
	}
	if o.TopP != nil {
		params.TopP = openai.Float(*o.TopP)
	}
	if o.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(o.MaxTokens))
	}
	if len(o.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: o.Stop}
	}
}

// translator maps chat completion chunks to canonical chunks. Text of the
// first choice shares one part key; tool calls are keyed by their index.
// Reasoning deltas of compatible servers are read from the raw payload.
type translator struct{}

func (translator) Translate(ck openai.ChatCompletionChunk, emit *model.Emitter) error {
	if ck.Usage.PromptTokens > 0 || ck.Usage.CompletionTokens > 0 {
		emit.InputTokens(int(ck.Usage.PromptTokens))
		emit.OutputTokens(int(ck.Usage.CompletionTokens))
	}
	if len(ck.Choices) == 0 {
		return nil
	}
	ch := ck.Choices[0]

	raw := gjson.Parse(ck.RawJSON())
	for _, path := range []string{"choices.0.delta.reasoning_content", "choices.0.delta.reasoning"} {
		if r := raw.Get(path); r.Type == gjson.String {
			emit.Thinking("reasoning", r.String(), "")
			break
		}
	}

	if ch.Delta.Content != "" {
		emit.Text(textKey, ch.Delta.Content)
	}
	for _, tc := range ch.Delta.ToolCalls {
		key := fmt.Sprintf("tool:%d", tc.Index)
		if !emit.IsOpen(key) {
			emit.StartToolCall(key, tc.ID, tc.Function.Name)
		}
		emit.ToolCallArgs(key, tc.Function.Arguments)
	}
	if ch.FinishReason == "content_filter" {
		return errors.New("response blocked by content filter")
	}
	return nil
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
