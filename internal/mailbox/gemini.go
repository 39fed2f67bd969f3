// Gemini adapter, grounded on the teacher's
// internal/agent/providers/google.go and internal/agent/toolconv/
// gemini.go, adapted from the teacher's streaming
// Models.GenerateContentStream to the non-streaming
// Models.GenerateContent call for the same reason the other two
// adapters are non-streaming: spec.md's Non-goals exclude real-time
// streaming token deltas. Error classification follows the teacher's
// string-matching approach (the genai SDK does not expose a typed
// status-code error the way anthropic-sdk-go and go-openai do).
package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/loomkit/loom/internal/convo"
)

// GeminiMailbox implements Mailbox for Google's Gemini API.
type GeminiMailbox struct {
	client *genai.Client
}

// NewGeminiMailbox constructs a Mailbox bound to apiKey via the Gemini
// API backend.
func NewGeminiMailbox(ctx context.Context, apiKey string) (*GeminiMailbox, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("mailbox/gemini: creating client: %w", err)
	}
	return &GeminiMailbox{client: client}, nil
}

func (m *GeminiMailbox) Name() string { return "gemini" }

type geminiRequest struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (m *GeminiMailbox) BuildRequest(view RequestView) (any, error) {
	var contents []*genai.Content
	toolNames := make(map[string]string) // tool call id -> function name
	for _, msg := range view.Messages {
		content := &genai.Content{}
		switch msg.Role {
		case convo.RoleUser:
			content.Role = genai.RoleUser
		case convo.RoleAssistant:
			content.Role = genai.RoleModel
		case convo.RoleTool:
			content.Role = genai.RoleUser
		default:
			content.Role = genai.RoleUser
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			toolNames[tc.ID] = tc.Name
			var args map[string]any
			if err := json.Unmarshal(tc.Arguments, &args); err != nil {
				args = make(map[string]any)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}
		for _, res := range msg.ToolResults {
			var response map[string]any
			if err := json.Unmarshal([]byte(res.Content), &response); err != nil {
				response = map[string]any{"result": res.Content, "error": res.IsError}
			}
			name := res.ToolCallID
			if n, ok := toolNames[res.ToolCallID]; ok {
				name = n
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: name, Response: response},
			})
		}

		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}

	config := &genai.GenerateContentConfig{}
	if view.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: view.System}}}
	}
	if view.MaxTokens > 0 {
		config.MaxOutputTokens = int32(view.MaxTokens)
	}
	if len(view.Tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, 0, len(view.Tools))
		for _, d := range view.Tools {
			schemaRaw := d.Schema
			if len(schemaRaw) == 0 {
				schemaRaw = paramSpecFallbackSchema(d.Parameters)
			}
			var schemaMap map[string]any
			if err := json.Unmarshal(schemaRaw, &schemaMap); err != nil {
				continue
			}
			declarations = append(declarations, &genai.FunctionDeclaration{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  toGeminiSchema(schemaMap),
			})
		}
		if len(declarations) > 0 {
			config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
		}
	}

	return &geminiRequest{model: view.ModelID, contents: contents, config: config}, nil
}

// toGeminiSchema converts a JSON Schema map to Gemini's Schema type,
// the same recursive shape as the teacher's toolconv.ToGeminiSchema.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}
	return schema
}

func (m *GeminiMailbox) Send(ctx context.Context, wireRequest any) (any, error) {
	req, ok := wireRequest.(*geminiRequest)
	if !ok {
		return nil, fmt.Errorf("mailbox/gemini: unexpected wire request type %T", wireRequest)
	}
	return m.client.Models.GenerateContent(ctx, req.model, req.contents, req.config)
}

func (m *GeminiMailbox) ExtractText(rawResponse any) string {
	resp, ok := rawResponse.(*genai.GenerateContentResponse)
	if !ok || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var out string
	for _, part := range resp.Candidates[0].Content.Parts {
		out += part.Text
	}
	return out
}

func (m *GeminiMailbox) ExtractToolCalls(rawResponse any) []convo.ToolCall {
	resp, ok := rawResponse.(*genai.GenerateContentResponse)
	if !ok || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var calls []convo.ToolCall
	for i, part := range resp.Candidates[0].Content.Parts {
		if part.FunctionCall == nil {
			continue
		}
		argsJSON, err := json.Marshal(part.FunctionCall.Args)
		if err != nil {
			continue
		}
		calls = append(calls, convo.ToolCall{
			ID:        fmt.Sprintf("%s_%d", part.FunctionCall.Name, i),
			Name:      part.FunctionCall.Name,
			Arguments: argsJSON,
		})
	}
	return calls
}

func (m *GeminiMailbox) ExtractUsage(rawResponse any) Usage {
	resp, ok := rawResponse.(*genai.GenerateContentResponse)
	if !ok || resp.UsageMetadata == nil {
		return Usage{}
	}
	return Usage{
		InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	}
}

func (m *GeminiMailbox) Classify(err error) ErrorClass {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "resource exhausted"),
		strings.Contains(msg, "rate limit"), strings.Contains(msg, "quota"),
		strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"),
		strings.Contains(msg, "unavailable"), strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "timeout"):
		return ErrorTransient
	default:
		return ErrorFatal
	}
}
