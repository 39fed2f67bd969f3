package mailbox

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomkit/loom/internal/convo"
	"github.com/loomkit/loom/internal/toolkit"
)

func TestAnthropicBuildRequestConvertsMessagesAndTools(t *testing.T) {
	mb := &AnthropicMailbox{}
	view := RequestView{
		ModelID: "claude-3-5-sonnet-latest",
		System:  "be terse",
		Messages: []convo.Message{
			{Role: convo.RoleUser, Content: "what's the weather in Austin?"},
			{Role: convo.RoleAssistant, ToolCalls: []convo.ToolCall{
				{ID: "call_1", Name: "get_weather", Arguments: json.RawMessage(`{"city":"Austin"}`)},
			}},
			{Role: convo.RoleTool, ToolResults: []convo.ToolResult{
				{ToolCallID: "call_1", Content: "72F and sunny"},
			}},
		},
		Tools: []toolkit.Descriptor{
			{Name: "get_weather", Description: "fetch current weather", Parameters: []toolkit.ParamSpec{
				{Name: "city", Type: "string", Required: true},
			}},
		},
		MaxTokens: 512,
	}

	wireRequest, err := mb.BuildRequest(view)
	require.NoError(t, err)

	params, ok := wireRequest.(*anthropic.MessageNewParams)
	require.True(t, ok)
	assert.Equal(t, int64(512), params.MaxTokens)
	assert.Len(t, params.Messages, 3)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, "get_weather", params.Tools[0].OfTool.Name)
}

func TestAnthropicBuildRequestDefaultsMaxTokens(t *testing.T) {
	mb := &AnthropicMailbox{}
	wireRequest, err := mb.BuildRequest(RequestView{ModelID: "claude-3-5-haiku-latest"})
	require.NoError(t, err)
	params := wireRequest.(*anthropic.MessageNewParams)
	assert.Equal(t, int64(4096), params.MaxTokens)
}

func TestAnthropicClassifyDefaultsToTransientForNonAPIErrors(t *testing.T) {
	mb := &AnthropicMailbox{}
	assert.Equal(t, ErrorTransient, mb.Classify(assertErr{}))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
