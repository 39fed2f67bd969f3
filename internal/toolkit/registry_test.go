package toolkit

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomkit/loom/internal/convo"
)

type addParams struct {
	X int `json:"x" jsonschema:"required"`
	Y int `json:"y" jsonschema:"required"`
}

func addFn(_ context.Context, args json.RawMessage) (string, error) {
	var p addParams
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	return strconv.Itoa(p.X + p.Y), nil
}

func TestAddToolAndExecute(t *testing.T) {
	r := NewRegistry()
	schema, params := GenerateSchema(&addParams{})

	err := r.AddTool(Definition{
		Name:        "simple_addition",
		Description: "adds two integers",
		Parameters:  params,
		Schema:      schema,
		Source:      "func add(x, y int) int { return x + y }",
		Fn:          addFn,
	})
	require.NoError(t, err)

	descs := r.Descriptors()
	require.Len(t, descs, 1)
	assert.Equal(t, "simple_addition", descs[0].Name)
	assert.Equal(t, schema, descs[0].Schema, "GenerateSchema's output must reach the descriptor a Mailbox adapter sees")

	requests := []convo.ToolCall{{ID: "call_1", Name: "simple_addition", Arguments: json.RawMessage(`{"x":2,"y":3}`)}}
	r.ExtractRequests(requests)
	results := r.ExecRequests(context.Background(), DefaultExecConfig(), nil)
	require.Len(t, results, 1)
	assert.Equal(t, "call_1", results[0].ToolCallID)
	assert.False(t, results[0].IsError)
}

// TestAddToolWithSchemaRejectsArgumentsMissingRequiredField confirms
// GenerateSchema's output is a live gate, not decoration: execOne
// validates call arguments against Definition.Schema before the tool's
// Fn ever runs, per ValidateArguments.
func TestAddToolWithSchemaRejectsArgumentsMissingRequiredField(t *testing.T) {
	r := NewRegistry()
	schema, params := GenerateSchema(&addParams{})
	require.NoError(t, r.AddTool(Definition{
		Name:       "simple_addition_strict",
		Parameters: params,
		Schema:     schema,
		Source:     "func add(x, y int) int { return x + y }",
		Fn:         addFn,
	}))

	r.ExtractRequests([]convo.ToolCall{{ID: "call_1", Name: "simple_addition_strict", Arguments: json.RawMessage(`{"x":2}`)}})
	results := r.ExecRequests(context.Background(), DefaultExecConfig(), nil)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
}

func TestExecRequestsUnknownToolYieldsToolNotFound(t *testing.T) {
	r := NewRegistry()
	r.ExtractRequests([]convo.ToolCall{{ID: "call_1", Name: "missing", Arguments: json.RawMessage(`{}`)}})
	results := r.ExecRequests(context.Background(), DefaultExecConfig(), nil)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, "ToolNotFound")
}

func TestAtMostOneExecutionPerRequestID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddTool(Definition{Name: "echo", Fn: func(_ context.Context, args json.RawMessage) (string, error) {
		return string(args), nil
	}}))

	first := r.ExtractRequests([]convo.ToolCall{{ID: "dup", Name: "echo", Arguments: json.RawMessage(`{}`)}})
	assert.Len(t, first, 1)
	_ = r.ExecRequests(context.Background(), DefaultExecConfig(), nil)

	// Provider-side duplication: the same id reappears in a later batch.
	second := r.ExtractRequests([]convo.ToolCall{{ID: "dup", Name: "echo", Arguments: json.RawMessage(`{}`)}})
	assert.Empty(t, second)
}

func TestClearIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.ExtractRequests([]convo.ToolCall{{ID: "a", Name: "x"}})
	r.Clear()
	r.Clear()
	assert.Empty(t, r.Results())
}

func TestNormalizeByID(t *testing.T) {
	requests := []convo.ToolCall{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	results := []convo.ToolResult{{ToolCallID: "c", Content: "3"}, {ToolCallID: "a", Content: "1"}, {ToolCallID: "b", Content: "2"}}

	ordered := NormalizeByID(requests, results)
	require.Len(t, ordered, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{ordered[0].ToolCallID, ordered[1].ToolCallID, ordered[2].ToolCallID})
}

func TestAddToolRejectsOverlongName(t *testing.T) {
	r := NewRegistry()
	long := make([]byte, MaxToolNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	err := r.AddTool(Definition{Name: string(long), Fn: func(context.Context, json.RawMessage) (string, error) { return "", nil }})
	assert.Error(t, err)
}
