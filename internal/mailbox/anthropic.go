// Package mailbox's Anthropic adapter. Grounded on the teacher's
// internal/agent/providers/anthropic.go and internal/agent/toolconv/
// anthropic.go, adapted from a streaming SSE client to the single-call
// Messages.New form: spec.md's Non-goals exclude real-time streaming
// token deltas, so BuildRequest/Send exchange one complete response per
// call rather than a channel of chunks.
package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/loomkit/loom/internal/convo"
)

// AnthropicMailbox implements Mailbox for Anthropic's Messages API.
type AnthropicMailbox struct {
	client anthropic.Client
}

// NewAnthropicMailbox constructs a Mailbox bound to apiKey. baseURL may
// be empty to use Anthropic's default endpoint.
func NewAnthropicMailbox(apiKey, baseURL string) *AnthropicMailbox {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicMailbox{client: anthropic.NewClient(opts...)}
}

func (m *AnthropicMailbox) Name() string { return "anthropic" }

func (m *AnthropicMailbox) BuildRequest(view RequestView) (any, error) {
	maxTokens := view.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	var messages []anthropic.MessageParam
	for _, msg := range view.Messages {
		switch msg.Role {
		case convo.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case convo.RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input any
				_ = json.Unmarshal(tc.Arguments, &input)
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		case convo.RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, res := range msg.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(res.ToolCallID, res.Content, res.IsError))
			}
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}

	var tools []anthropic.ToolUnionParam
	for _, d := range view.Tools {
		schemaRaw := d.Schema
		if len(schemaRaw) == 0 {
			schemaRaw = paramSpecFallbackSchema(d.Parameters)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(schemaRaw, &schema); err != nil {
			return nil, fmt.Errorf("converting tool %q schema: %w", d.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, d.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(d.Description)
		}
		tools = append(tools, toolParam)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(view.ModelID),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
		Tools:     tools,
	}
	if view.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: view.System}}
	}
	return &params, nil
}

func (m *AnthropicMailbox) Send(ctx context.Context, wireRequest any) (any, error) {
	params, ok := wireRequest.(*anthropic.MessageNewParams)
	if !ok {
		return nil, fmt.Errorf("mailbox/anthropic: unexpected wire request type %T", wireRequest)
	}
	return m.client.Messages.New(ctx, *params)
}

func (m *AnthropicMailbox) ExtractText(rawResponse any) string {
	msg, ok := rawResponse.(*anthropic.Message)
	if !ok {
		return ""
	}
	var out string
	for _, block := range msg.Content {
		if text := block.AsAny(); text != nil {
			if tb, ok := text.(anthropic.TextBlock); ok {
				out += tb.Text
			}
		}
	}
	return out
}

func (m *AnthropicMailbox) ExtractToolCalls(rawResponse any) []convo.ToolCall {
	msg, ok := rawResponse.(*anthropic.Message)
	if !ok {
		return nil
	}
	var calls []convo.ToolCall
	for _, block := range msg.Content {
		if tu, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
			calls = append(calls, convo.ToolCall{ID: tu.ID, Name: tu.Name, Arguments: json.RawMessage(tu.Input)})
		}
	}
	return calls
}

func (m *AnthropicMailbox) ExtractUsage(rawResponse any) Usage {
	msg, ok := rawResponse.(*anthropic.Message)
	if !ok {
		return Usage{}
	}
	return Usage{InputTokens: int(msg.Usage.InputTokens), OutputTokens: int(msg.Usage.OutputTokens)}
}

func (m *AnthropicMailbox) Classify(err error) ErrorClass {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return ErrorTransient
		}
		return ErrorFatal
	}
	return ErrorTransient
}
