// Package anthropic provides a streaming model.Model for the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/model"
)

// Options configures the Anthropic model adapter. Sampling values act as
// defaults and are overridden by request options.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
	// ThinkingBudget enables extended thinking when > 0.
	ThinkingBudget int64
	// ServerTools are executed by the vendor. Their blocks never surface as
	// tool-call chunks.
	ServerTools []anthropic.ToolUnionParam
	// RequestOptions are passed to the client on construction.
	RequestOptions []option.RequestOption
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// NewModel creates a new Anthropic model using the official client
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

	client := anthropic.NewClient(clientOpts...)

	return &Model{
		client: &client,
		opts:   opts,
	}
}

// NewModelFromClient creates a new Anthropic model from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{
		client: client,
		opts:   opts,
	}
}

// Stream implements model.Model.
func (m *Model) Stream(ctx context.Context, req model.Request) model.ChunkStream {
	open := func(ctx context.Context) (model.EventSource[anthropic.MessageStreamEventUnion], error) {
		return m.client.Messages.NewStreaming(ctx, m.buildParams(req)), nil
	}
	return model.NewStream(ctx, req.Timeout, open, &translator{})
}

func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     m.opts.Model,
		Messages:  buildMessages(req.Messages),
		MaxTokens: m.opts.MaxTokens,
	}

	// Extended thinking rejects custom temperatures.
	if m.opts.ThinkingBudget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(m.opts.ThinkingBudget)
	} else {
		params.Temperature = anthropic.Float(m.opts.Temperature)
	}

	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	applyOptions(&params, req.Options)

	tools := buildTools(req.Tools)
	tools = append(tools, m.opts.ServerTools...)
	if len(tools) > 0 {
		params.Tools = tools
	}

	return params
}

// applyOptions is the canonical option translation table for Anthropic.
func applyOptions(params *anthropic.MessageNewParams, o model.GenerateOptions) {
	if o.Temperature != nil {
		params.Temperature = anthropic.Float(*o.Temperature)
	}
	if o.TopP != nil {
		params.TopP = anthropic.Float(*o.TopP)
	}
	if o.MaxTokens > 0 {
		params.MaxTokens = int64(o.MaxTokens)
	}
	if len(o.Stop) > 0 {
		params.StopSequences = o.Stop
	}
}

// buildMessages converts history into Anthropic messages. Tool results
// travel in user messages; consecutive messages of the same role are merged.
func buildMessages(history []core.Message) []anthropic.MessageParam {
	var messages []anthropic.MessageParam

	appendBlocks := func(role anthropic.MessageParamRole, blocks []anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, blocks...)
			return
		}
		messages = append(messages, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, msg := range history {
		switch msg.Role {
		case core.RoleSystem:
			continue // carried in Request.SystemPrompt
		case core.RoleAssistant:
			appendBlocks(anthropic.MessageParamRoleAssistant, buildAssistantContent(msg.Parts))
		default:
			appendBlocks(anthropic.MessageParamRoleUser, buildUserContent(msg.Parts))
		}
	}

	return messages
}

func buildUserContent(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion

	for _, p := range parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				content = append(content, anthropic.NewTextBlock(part.Text))
			}
		case core.FilePart:
			if len(part.Data) > 0 {
				content = append(content, anthropic.NewImageBlockBase64(part.MimeType, base64.StdEncoding.EncodeToString(part.Data)))
			} else if part.URI != "" {
				content = append(content, anthropic.NewTextBlock(part.URI))
			}
		case core.ToolResultPart:
			r := part.ToolResult
			content = append(content, anthropic.NewToolResultBlock(r.ID, r.Text(), r.IsError))
		}
	}

	return content
}

func buildAssistantContent(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion

	for _, p := range parts {
		switch part := p.(type) {
		case core.ThinkingPart:
			if part.Signature != "" {
				content = append(content, anthropic.NewThinkingBlock(part.Signature, part.Text))
			}
		case core.TextPart:
			if part.Text != "" {
				content = append(content, anthropic.NewTextBlock(part.Text))
			}
		case core.ToolCallPart:
			// Malformed arguments were already reported back as a tool
			// result; the API still requires an object here.
			var input any = map[string]any{}
			if args := part.ToolCall.Arguments; args != "" && json.Valid([]byte(args)) {
				input = json.RawMessage(args)
			}
			content = append(content, anthropic.NewToolUseBlock(part.ToolCall.ID, input, part.ToolCall.Name))
		}
	}

	return content
}

// buildTools converts tool definitions to Anthropic tool format
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, 0, len(tools))

	for _, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}

		if params := tool.Parameters; params != nil {
			if properties, exists := params["properties"]; exists {
				inputSchema.Properties = properties
			}
			inputSchema.Required = requiredFields(params["required"])
		}

		t := anthropic.ToolUnionParamOfTool(inputSchema, tool.Name)
		if tool.Description != "" && t.OfTool != nil {
			t.OfTool.Description = anthropic.String(tool.Description)
		}
		anthropicTools = append(anthropicTools, t)
	}

	return anthropicTools
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// translator maps Messages API stream events to canonical chunks. Content
// block indices are the part keys.
type translator struct{}

func (translator) Translate(event anthropic.MessageStreamEventUnion, emit *model.Emitter) error {
	switch ev := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		emit.InputTokens(int(ev.Message.Usage.InputTokens))
		emit.OutputTokens(int(ev.Message.Usage.OutputTokens))
	case anthropic.ContentBlockStartEvent:
		key := strconv.FormatInt(ev.Index, 10)
		switch ev.ContentBlock.Type {
		case "tool_use":
			emit.StartToolCall(key, ev.ContentBlock.ID, ev.ContentBlock.Name)
		case "text":
			emit.Text(key, ev.ContentBlock.Text)
		case "thinking":
			emit.Thinking(key, ev.ContentBlock.Thinking, ev.ContentBlock.Signature)
		}
	case anthropic.ContentBlockDeltaEvent:
		key := strconv.FormatInt(ev.Index, 10)
		switch ev.Delta.Type {
		case "text_delta":
			emit.Text(key, ev.Delta.Text)
		case "input_json_delta":
			emit.ToolCallArgs(key, ev.Delta.PartialJSON)
		case "thinking_delta":
			emit.Thinking(key, ev.Delta.Thinking, "")
		case "signature_delta":
			emit.Thinking(key, "", ev.Delta.Signature)
		}
	case anthropic.ContentBlockStopEvent:
		emit.EndPart(strconv.FormatInt(ev.Index, 10))
	case anthropic.MessageDeltaEvent:
		emit.OutputTokens(int(ev.Usage.OutputTokens))
	case anthropic.MessageStopEvent:
		emit.Finish()
	}
	return nil
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
