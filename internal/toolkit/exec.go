package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/loomkit/loom/internal/convo"
)

// ExecConfig bounds a turn's tool execution. Grounded on the teacher's
// internal/agent/tool_exec.go ToolExecConfig; this module supplements
// spec §4.4's unspecified concurrency with a semaphore-bounded default
// (see SPEC_FULL.md "Tool execution concurrency bound").
type ExecConfig struct {
	Concurrency int
}

// DefaultExecConfig matches the teacher's default of 4 concurrent tool
// executions per turn.
func DefaultExecConfig() ExecConfig {
	return ExecConfig{Concurrency: 4}
}

func (c ExecConfig) sanitize() ExecConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultExecConfig().Concurrency
	}
	return c
}

// EventCallback receives tool lifecycle notifications, threaded through
// to the on_tool_start/on_tool_complete callbacks of §4.10.
type EventCallback func(event string, toolName string, args []byte, result *convo.ToolResult)

// ExecRequests runs every request currently queued on the registry,
// honoring the at-most-one-execution guard already applied by
// ExtractRequests, and returns results in completion order (callers
// normalize by id before the next send, per §5).
//
// A tool that is not registered yields a ToolNotFound result rather
// than failing the turn (§7). A tool function that returns an error
// yields a result with IsError=true carrying the error's message
// (ToolExecFailure) rather than propagating out of the registry (§4.4).
func (r *Registry) ExecRequests(ctx context.Context, cfg ExecConfig, emit EventCallback) []convo.ToolResult {
	cfg = cfg.sanitize()

	r.mu.RLock()
	pending := make([]convo.ToolCall, len(r.requests))
	copy(pending, r.requests)
	r.mu.RUnlock()

	sem := make(chan struct{}, cfg.Concurrency)
	resultsCh := make(chan convo.ToolResult, len(pending))
	var wg sync.WaitGroup

	for _, call := range pending {
		call := call
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if emit != nil {
				emit("tool_started", call.Name, call.Arguments, nil)
			}
			res := r.execOne(ctx, call)
			if emit != nil {
				emit("tool_completed", call.Name, call.Arguments, &res)
			}
			resultsCh <- res
		}()
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	var out []convo.ToolResult
	for res := range resultsCh {
		out = append(out, res)
		r.appendResult(res)
	}
	return out
}

func (r *Registry) execOne(ctx context.Context, call convo.ToolCall) convo.ToolResult {
	if len(call.Arguments) > MaxToolParamsSize {
		return convo.ToolResult{ToolCallID: call.ID, Content: "tool arguments exceed maximum size", IsError: true}
	}
	fn, ok := r.lookupFunc(call.Name)
	if !ok {
		return convo.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("ToolNotFound: %s", call.Name), IsError: true}
	}

	// A tool registered with a full JSON schema (Definition.Schema, the
	// live consumer of GenerateSchema's reflection output) gets its
	// arguments checked before Fn ever sees them; a tool with only the
	// flat ParamSpec fallback has no schema to validate against here.
	if schema := r.schemaFor(call.Name); len(schema) > 0 {
		if err := ValidateArguments(schema, call.Arguments); err != nil {
			return convo.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
		}
	}

	content, err := fn(ctx, call.Arguments)
	if err != nil {
		return convo.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}
	return convo.ToolResult{ToolCallID: call.ID, Content: content}
}

func (r *Registry) schemaFor(name string) json.RawMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.tools {
		if d.Name == name {
			return d.Schema
		}
	}
	return nil
}
