// Package toolkit implements the per-bot tool registry and the tool
// loader's portable serialization (§4.4, §4.5). A ModuleContext's
// source_code, not any live function, is the persisted artifact;
// rehydrate.go reconstitutes executable bindings from it.
package toolkit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/loomkit/loom/internal/convo"
	"github.com/loomkit/loom/internal/loomerr"
)

// MaxToolNameLength and MaxToolParamsSize bound what add_tool and
// exec_requests will accept, so a pathological tool definition fails
// loudly at registration (ModuleLoadFailure) rather than at execution
// time. Values match the teacher's internal/agent/tool_registry.go.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20
)

// ToolFunc is the live, in-process form of a tool: a function of its
// JSON-encoded arguments returning a string result. Tool authors never
// raise out of this signature for ordinary failures; they return a
// descriptive error instead, which exec_requests converts to a result
// string (ToolExecFailure), never a panic out of the registry.
type ToolFunc func(ctx context.Context, args json.RawMessage) (string, error)

// ParamSpec is one entry of a tool's provider-neutral parameter schema.
type ParamSpec struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// Descriptor is a tool's provider-neutral, JSON-serializable identity:
// everything the registry persists and every Mailbox adapter converts
// to its own wire schema at the boundary (internal/mailbox/*, toolconv
// in the teacher's idiom).
type Descriptor struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Parameters      []ParamSpec     `json:"parameters"`
	Schema          json.RawMessage `json:"schema,omitempty"`
	ModuleContextID string          `json:"module_context_id"`
}

// ModuleContext is a snapshot of a block of tool source plus (once
// rehydrated) its bound namespace. CodeHash is computed from SourceCode
// at snapshot time and re-checked, as a warning only, at load.
type ModuleContext struct {
	ID                    string `json:"id"`
	LogicalName           string `json:"logical_name"`
	SourceCode            string `json:"source_code"`
	OriginPathOrVirtualID string `json:"origin_path_or_virtual_id"`
	CodeHash              string `json:"code_hash"`

	// namespace holds the live bindings resolved for this module's
	// tools, either because AddTool supplied them directly in this
	// process or because Rehydrate resolved them from a factory. Never
	// serialized.
	namespace map[string]ToolFunc
}

func hashSource(src string) string {
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}

// Definition is what a caller supplies to AddTool: a tool's identity,
// its backing Go source (for the portable snapshot), and the live
// function that executes it in this process.
type Definition struct {
	Name        string
	Description string
	Parameters  []ParamSpec
	Schema      json.RawMessage // full JSON schema, typically from GenerateSchema
	Source      string          // the Go source backing this tool, for the snapshot
	OriginPath  string          // real file path, or "" for an in-process/dynamic tool
	Fn          ToolFunc
}

// Registry holds one bot's tools: descriptors, live bindings, the
// module contexts they came from, and the current turn's scratch
// (requests/results), cleared at the start of every _cvsn_respond.
type Registry struct {
	mu            sync.RWMutex
	tools         []Descriptor
	modules       map[string]*ModuleContext
	functionMap   map[string]ToolFunc
	functionPaths map[string]string // tool name -> module context id
	pathRemap     map[string]string // stored origin path -> resolved path

	requests []convo.ToolCall
	results  []convo.ToolResult
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		modules:       make(map[string]*ModuleContext),
		functionMap:   make(map[string]ToolFunc),
		functionPaths: make(map[string]string),
		pathRemap:     make(map[string]string),
	}
}

func moduleID(originPath, hash string) string {
	if originPath != "" {
		return originPath
	}
	return "dynamic_module_" + hash[:16]
}

// AddTool discovers and registers a single tool, snapshotting its
// source and binding its live function. A tool name longer than
// MaxToolNameLength is rejected loudly (ModuleLoadFailure), per §4.4
// and §7.
func (r *Registry) AddTool(def Definition) error {
	if len(def.Name) == 0 || len(def.Name) > MaxToolNameLength {
		return loomerr.New(loomerr.KindModuleLoadFailure, fmt.Sprintf("tool name %q invalid (len %d, max %d)", def.Name, len(def.Name), MaxToolNameLength))
	}
	if def.Fn == nil {
		return loomerr.New(loomerr.KindModuleLoadFailure, fmt.Sprintf("tool %q: no implementation supplied", def.Name))
	}

	hash := hashSource(def.Source)
	id := moduleID(def.OriginPath, hash)

	r.mu.Lock()
	defer r.mu.Unlock()

	mc, ok := r.modules[id]
	if !ok {
		mc = &ModuleContext{
			ID:                    id,
			LogicalName:           id,
			SourceCode:            def.Source,
			OriginPathOrVirtualID: id,
			CodeHash:              hash,
			namespace:             make(map[string]ToolFunc),
		}
		r.modules[id] = mc
	}
	mc.namespace[def.Name] = def.Fn

	r.tools = append(r.tools, Descriptor{
		Name:            def.Name,
		Description:     def.Description,
		Parameters:      def.Parameters,
		Schema:          def.Schema,
		ModuleContextID: id,
	})
	r.functionMap[def.Name] = def.Fn
	r.functionPaths[def.Name] = id
	return nil
}

// Descriptors returns the registry's tool descriptors in registration
// order, the form every Mailbox adapter converts to its own wire
// schema.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, len(r.tools))
	copy(out, r.tools)
	return out
}

// Modules returns a copy of the registry's module-context map, keyed by
// id, suitable for snapshotting.
func (r *Registry) Modules() map[string]*ModuleContext {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*ModuleContext, len(r.modules))
	for k, v := range r.modules {
		out[k] = v
	}
	return out
}

// FunctionPaths returns a copy of the tool-name -> module-context-id
// map, for snapshotting (§6: bot file `tool_handler.function_paths{}`).
func (r *Registry) FunctionPaths() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.functionPaths))
	for k, v := range r.functionPaths {
		out[k] = v
	}
	return out
}

// CloneForBranch returns a new Registry sharing this one's tool
// bindings and module contexts (module-context namespaces are
// process-wide, per spec.md §5) but with empty per-turn scratch, so a
// branch's tool executions are invisible to its siblings and to the
// bot it was copied from. Because this stays in-process, the clone's
// ToolFunc closures are the same bound functions as the original's —
// not re-resolved through Rehydrate's factory/placeholder path — which
// is what lets internal/botfile's deep-copy discipline preserve
// "wrapped callables" exactly, rather than risk them stringifying the
// way the teacher's historical copy bug did (see DESIGN.md, spec §9).
func (r *Registry) CloneForBranch() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clone := NewRegistry()
	clone.tools = append([]Descriptor{}, r.tools...)
	for id, mc := range r.modules {
		clone.modules[id] = mc
	}
	for name, fn := range r.functionMap {
		clone.functionMap[name] = fn
	}
	for name, id := range r.functionPaths {
		clone.functionPaths[name] = id
	}
	for stored, resolved := range r.pathRemap {
		clone.pathRemap[stored] = resolved
	}
	return clone
}

// Clear resets the per-turn scratch (requests/results). Idempotent.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = nil
	r.results = nil
}

// ExtractRequests records requests for this turn, deduplicating against
// ids already present in results (§4.4's at-most-one-execution
// idempotency guard against provider-side duplication).
func (r *Registry) ExtractRequests(requests []convo.ToolCall) []convo.ToolCall {
	r.mu.Lock()
	defer r.mu.Unlock()

	already := make(map[string]bool, len(r.results))
	for _, res := range r.results {
		already[res.ToolCallID] = true
	}
	var fresh []convo.ToolCall
	for _, req := range requests {
		if already[req.ID] {
			continue
		}
		fresh = append(fresh, req)
		already[req.ID] = true
	}
	r.requests = append(r.requests, fresh...)
	return fresh
}

// lookupFunc returns the bound function for name, or nil if absent.
func (r *Registry) lookupFunc(name string) (ToolFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.functionMap[name]
	return fn, ok
}

func (r *Registry) appendResult(res convo.ToolResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

// Requests returns a copy of this turn's queued requests so far, for
// snapshotting alongside Results (§6: bot file `tool_handler.requests[]`).
func (r *Registry) Requests() []convo.ToolCall {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]convo.ToolCall, len(r.requests))
	copy(out, r.requests)
	return out
}

// Results returns a copy of this turn's results so far, ordered by
// completion (callers must normalize by id before the next send, per
// §5: "ordering is normalized by id before the next send").
func (r *Registry) Results() []convo.ToolResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]convo.ToolResult, len(r.results))
	copy(out, r.results)
	return out
}

// NormalizeByID reorders results to match the order their ids first
// appeared in requests, satisfying §5's wire-determinism guarantee.
func NormalizeByID(requests []convo.ToolCall, results []convo.ToolResult) []convo.ToolResult {
	byID := make(map[string]convo.ToolResult, len(results))
	for _, res := range results {
		byID[res.ToolCallID] = res
	}
	out := make([]convo.ToolResult, 0, len(requests))
	for _, req := range requests {
		if res, ok := byID[req.ID]; ok {
			out = append(out, res)
		}
	}
	return out
}
