// Package convo implements the conversation tree and cursor-based
// navigator that every other component of the runtime core is built
// over: Node (one vertex per message), the tree structural operations
// (§4.2 of the spec), and the Navigator (§4.3).
package convo

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a Node. RoleEmpty is reserved for the
// tree's root sentinel and must never appear elsewhere.
type Role string

const (
	RoleEmpty     Role = "empty"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolCall is a single tool invocation request produced by the model on
// an assistant Node.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the string result of executing a ToolCall, paired to it
// by ID rather than by position.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Node is one vertex of the conversation tree. Parent is a weak,
// non-owning back-reference excluded from JSON serialization; the tree
// reconstructs it structurally on load.
type Node struct {
	Role           Role                   `json:"role"`
	Content        string                 `json:"content"`
	ToolCalls      []ToolCall             `json:"tool_calls,omitempty"`
	ToolResults    []ToolResult           `json:"tool_results,omitempty"`
	PendingResults []ToolResult           `json:"pending_results,omitempty"`
	Attributes     map[string]any         `json:"attributes,omitempty"`
	Replies        []*Node                `json:"replies,omitempty"`
	Parent         *Node                  `json:"-"`
}

// newNode constructs a Node with the given role/content, leaving all
// other fields at their zero value. Callers append it via AppendReply
// so Parent and Replies stay consistent.
func newNode(role Role, content string) *Node {
	return &Node{Role: role, Content: content}
}

// AppendReply creates a child of n with the given fields, appends it to
// n.Replies in insertion order, and returns it. This is the sole way new
// nodes enter the tree; the step machine and orchestrator never mutate
// Replies directly.
func (n *Node) AppendReply(role Role, content string, toolCalls []ToolCall) *Node {
	child := newNode(role, content)
	child.ToolCalls = toolCalls
	child.Parent = n
	n.Replies = append(n.Replies, child)
	return child
}

// IsLeaf reports whether n has no replies.
func (n *Node) IsLeaf() bool { return len(n.Replies) == 0 }

// IsRoot reports whether n has no parent.
func (n *Node) IsRoot() bool { return n.Parent == nil }

// FindRoot walks Parent links to the tree's root.
func (n *Node) FindRoot() *Node {
	cur := n
	for cur.Parent != nil {
		cur = cur.Parent
	}
	return cur
}

// FindLeaves returns every leaf in the subtree rooted at n, in
// depth-first left-to-right order (§4.2 tie-breaking rule).
func (n *Node) FindLeaves() []*Node {
	if n.IsLeaf() {
		return []*Node{n}
	}
	var leaves []*Node
	for _, child := range n.Replies {
		leaves = append(leaves, child.FindLeaves()...)
	}
	return leaves
}

// SubtreeSize counts n and every descendant.
func (n *Node) SubtreeSize() int {
	size := 1
	for _, child := range n.Replies {
		size += child.SubtreeSize()
	}
	return size
}

// SiblingIndex returns n's position among its parent's Replies, or -1
// if n is the root.
func (n *Node) SiblingIndex() int {
	if n.Parent == nil {
		return -1
	}
	for i, sib := range n.Parent.Replies {
		if sib == n {
			return i
		}
	}
	return -1
}

// PathFromRoot returns the list of reply indices that locate n starting
// from the tree's root. This is the representation labels are persisted
// as (§4.8): indices survive a save/load round trip, object pointers do
// not.
func (n *Node) PathFromRoot() []int {
	var path []int
	cur := n
	for cur.Parent != nil {
		path = append([]int{cur.SiblingIndex()}, path...)
		cur = cur.Parent
	}
	return path
}

// NodeAtPath resolves a path-from-root (as produced by PathFromRoot)
// against root, returning an error if any index is out of range.
func NodeAtPath(root *Node, path []int) (*Node, error) {
	cur := root
	for _, idx := range path {
		if idx < 0 || idx >= len(cur.Replies) {
			return nil, fmt.Errorf("convo: path index %d out of range at depth with %d replies", idx, len(cur.Replies))
		}
		cur = cur.Replies[idx]
	}
	return cur, nil
}

// isJSONSafe reports whether v is representable in the strict JSON
// attribute alphabet {string, number, boolean, null, list, map}. Disk
// save uses this to fail loudly (PersistSchemaViolation) rather than
// silently stringify an attribute the deep-copy path would have
// preserved verbatim (see spec §4.8, §9 "Wrapped respond").
func isJSONSafe(v any) bool {
	switch t := v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64, json.Number:
		return true
	case []any:
		for _, e := range t {
			if !isJSONSafe(e) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, e := range t {
			if !isJSONSafe(e) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
