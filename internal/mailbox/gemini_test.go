package mailbox

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/loomkit/loom/internal/convo"
	"github.com/loomkit/loom/internal/toolkit"
)

func TestGeminiBuildRequestConvertsMessagesAndTools(t *testing.T) {
	mb := &GeminiMailbox{}
	view := RequestView{
		ModelID: "gemini-2.0-flash",
		System:  "be terse",
		Messages: []convo.Message{
			{Role: convo.RoleUser, Content: "what's the weather in Austin?"},
			{Role: convo.RoleAssistant, ToolCalls: []convo.ToolCall{
				{ID: "call_1", Name: "get_weather", Arguments: json.RawMessage(`{"city":"Austin"}`)},
			}},
			{Role: convo.RoleTool, ToolResults: []convo.ToolResult{
				{ToolCallID: "get_weather", Content: `{"temp":"72F"}`},
			}},
		},
		Tools: []toolkit.Descriptor{
			{Name: "get_weather", Description: "fetch current weather", Parameters: []toolkit.ParamSpec{
				{Name: "city", Type: "string", Required: true},
			}},
		},
		MaxTokens: 256,
	}

	wireRequest, err := mb.BuildRequest(view)
	require.NoError(t, err)
	req, ok := wireRequest.(*geminiRequest)
	require.True(t, ok)

	assert.Equal(t, "gemini-2.0-flash", req.model)
	assert.Len(t, req.contents, 3)
	require.NotNil(t, req.config.SystemInstruction)
	require.Len(t, req.config.Tools, 1)
	assert.Equal(t, "get_weather", req.config.Tools[0].FunctionDeclarations[0].Name)
}

func TestToGeminiSchemaConvertsRequiredAndProperties(t *testing.T) {
	schema := toGeminiSchema(map[string]any{
		"type":     "object",
		"required": []any{"city"},
		"properties": map[string]any{
			"city": map[string]any{"type": "string", "description": "city name"},
		},
	})
	require.NotNil(t, schema)
	assert.Equal(t, genai.Type("OBJECT"), schema.Type)
	assert.Equal(t, []string{"city"}, schema.Required)
	require.Contains(t, schema.Properties, "city")
	assert.Equal(t, "city name", schema.Properties["city"].Description)
}

func TestGeminiExtractTextAndToolCalls(t *testing.T) {
	mb := &GeminiMailbox{}
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Parts: []*genai.Part{
						{Text: "hi there"},
						{FunctionCall: &genai.FunctionCall{Name: "noop", Args: map[string]any{}}},
					},
				},
			},
		},
	}

	assert.Equal(t, "hi there", mb.ExtractText(resp))
	calls := mb.ExtractToolCalls(resp)
	require.Len(t, calls, 1)
	assert.Equal(t, "noop", calls[0].Name)
}

func TestGeminiClassifyRateLimitAsTransient(t *testing.T) {
	mb := &GeminiMailbox{}
	assert.Equal(t, ErrorTransient, mb.Classify(fakeErr("429: resource exhausted")))
	assert.Equal(t, ErrorFatal, mb.Classify(fakeErr("400: invalid argument")))
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
