// OpenAI adapter, grounded on the teacher's
// internal/agent/providers/openai.go, adapted from its streaming
// CreateChatCompletionStream to the non-streaming CreateChatCompletion
// call for the same reason as the Anthropic adapter: spec.md's
// Non-goals exclude real-time streaming token deltas.
package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/loomkit/loom/internal/convo"
)

// OpenAIMailbox implements Mailbox for OpenAI's Chat Completions API.
type OpenAIMailbox struct {
	client *openai.Client
}

// NewOpenAIMailbox constructs a Mailbox bound to apiKey. baseURL may be
// empty to use OpenAI's default endpoint, or set for Azure/compatible
// gateways.
func NewOpenAIMailbox(apiKey, baseURL string) *OpenAIMailbox {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIMailbox{client: openai.NewClientWithConfig(cfg)}
}

func (m *OpenAIMailbox) Name() string { return "openai" }

func (m *OpenAIMailbox) BuildRequest(view RequestView) (any, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(view.Messages)+1)
	if view.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: view.System,
		})
	}

	for _, msg := range view.Messages {
		switch msg.Role {
		case convo.RoleUser:
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		case convo.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			messages = append(messages, oaiMsg)
		case convo.RoleTool:
			for _, res := range msg.ToolResults {
				messages = append(messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    res.Content,
					ToolCallID: res.ToolCallID,
				})
			}
		}
	}

	var tools []openai.Tool
	for _, d := range view.Tools {
		schemaRaw := d.Schema
		if len(schemaRaw) == 0 {
			schemaRaw = paramSpecFallbackSchema(d.Parameters)
		}
		var schemaMap map[string]any
		if err := json.Unmarshal(schemaRaw, &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  schemaMap,
			},
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    view.ModelID,
		Messages: messages,
		Tools:    tools,
	}
	if view.MaxTokens > 0 {
		req.MaxTokens = view.MaxTokens
	}
	if view.Temperature > 0 {
		req.Temperature = float32(view.Temperature)
	}
	return &req, nil
}

func (m *OpenAIMailbox) Send(ctx context.Context, wireRequest any) (any, error) {
	req, ok := wireRequest.(*openai.ChatCompletionRequest)
	if !ok {
		return nil, fmt.Errorf("mailbox/openai: unexpected wire request type %T", wireRequest)
	}
	resp, err := m.client.CreateChatCompletion(ctx, *req)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (m *OpenAIMailbox) ExtractText(rawResponse any) string {
	resp, ok := rawResponse.(*openai.ChatCompletionResponse)
	if !ok || len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}

func (m *OpenAIMailbox) ExtractToolCalls(rawResponse any) []convo.ToolCall {
	resp, ok := rawResponse.(*openai.ChatCompletionResponse)
	if !ok || len(resp.Choices) == 0 {
		return nil
	}
	var calls []convo.ToolCall
	for _, tc := range resp.Choices[0].Message.ToolCalls {
		calls = append(calls, convo.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return calls
}

func (m *OpenAIMailbox) ExtractUsage(rawResponse any) Usage {
	resp, ok := rawResponse.(*openai.ChatCompletionResponse)
	if !ok {
		return Usage{}
	}
	return Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
}

func (m *OpenAIMailbox) Classify(err error) ErrorClass {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500 {
			return ErrorTransient
		}
		return ErrorFatal
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500 {
			return ErrorTransient
		}
		return ErrorFatal
	}
	return ErrorTransient
}
