package convo

import (
	"encoding/json"
	"sync"

	"github.com/loomkit/loom/internal/loomerr"
)

// Message is the provider-neutral wire shape produced by BuildMessages.
// Per-provider Mailbox adapters (internal/mailbox) translate a sequence
// of these into their own request format (§6).
type Message struct {
	Role        Role
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// Tree owns the rooted conversation and the live cursor. The root is
// always role RoleEmpty and has no parent (§3 invariants).
type Tree struct {
	Root   *Node
	Cursor *Node

	// attachMu serializes structural mutation of the tree from branch
	// re-attachment (§5: "only the final leaf subtrees are re-attached
	// to the original bot under a critical section that serializes the
	// mutation"). It guards AttachSubtree only; ordinary cursor moves
	// and respond calls are already serialized by the step machine's
	// busy flag.
	attachMu sync.Mutex
}

// NewTree returns a fresh Tree with a single empty-role root, cursor
// positioned at the root.
func NewTree() *Tree {
	root := newNode(RoleEmpty, "")
	return &Tree{Root: root, Cursor: root}
}

// CloneSubtree returns a detached structural copy of n (Parent nil on
// the returned root), preserving non-JSON-safe Attributes verbatim.
func CloneSubtree(n *Node) *Node {
	return cloneNode(n, nil)
}

// AttachSubtree clones subtreeRoot and appends it as a new reply under
// parent, which must belong to t. This is the re-attachment half of
// orchestrator branch isolation (§4.9): a branch runs against its own
// DeepCopy of the bot, and only its resulting subtree is grafted back
// onto the original tree, under a lock so concurrent branches
// converging on the same parent never interleave their appends.
func (t *Tree) AttachSubtree(parent *Node, subtreeRoot *Node) *Node {
	t.attachMu.Lock()
	defer t.attachMu.Unlock()

	clone := cloneNode(subtreeRoot, parent)
	parent.Replies = append(parent.Replies, clone)
	return clone
}

// BuildMessages walks from root to the given node (inclusive), emitting
// one provider-neutral Message per non-root node. A node carrying both
// text and tool calls emits a single assistant message with both; any
// tool results recorded on that node are emitted as a following
// RoleTool message, since providers require results to appear on the
// message *after* the call that produced them (§4.2, §6).
func BuildMessages(node *Node) []Message {
	var chain []*Node
	for cur := node; cur != nil; cur = cur.Parent {
		chain = append([]*Node{cur}, chain...)
	}

	var msgs []Message
	for _, n := range chain {
		if n.Role == RoleEmpty {
			continue
		}
		msgs = append(msgs, Message{
			Role:      n.Role,
			Content:   n.Content,
			ToolCalls: n.ToolCalls,
		})
		if len(n.ToolResults) > 0 {
			msgs = append(msgs, Message{
				Role:        RoleTool,
				ToolResults: n.ToolResults,
			})
		}
	}
	return msgs
}

// treeDict is the JSON-safe structural representation of a Tree, used
// by ToDict (strict disk save) and FromDict; the in-process deep copy
// clones nodes directly and does not go through it. Labels are stored as reply-index paths so they
// survive a round trip without object identity (§4.8).
type treeDict struct {
	Root   *nodeDict `json:"root"`
	Labels map[string][]int `json:"labels,omitempty"`
}

type nodeDict struct {
	Role           Role              `json:"role"`
	Content        string            `json:"content"`
	ToolCalls      []ToolCall        `json:"tool_calls,omitempty"`
	ToolResults    []ToolResult      `json:"tool_results,omitempty"`
	PendingResults []ToolResult      `json:"pending_results,omitempty"`
	Attributes     map[string]any    `json:"attributes,omitempty"`
	Replies        []*nodeDict       `json:"replies,omitempty"`
}

func nodeToDict(n *Node) (*nodeDict, error) {
	if n.Attributes != nil && !isJSONSafe(n.Attributes) {
		return nil, loomerr.New(loomerr.KindPersistSchema, "node carries a non-JSON-safe attribute")
	}
	d := &nodeDict{
		Role:           n.Role,
		Content:        n.Content,
		ToolCalls:      n.ToolCalls,
		ToolResults:    n.ToolResults,
		PendingResults: n.PendingResults,
		Attributes:     n.Attributes,
	}
	for _, child := range n.Replies {
		cd, err := nodeToDict(child)
		if err != nil {
			return nil, err
		}
		d.Replies = append(d.Replies, cd)
	}
	return d, nil
}

func dictToNode(d *nodeDict, parent *Node) *Node {
	n := &Node{
		Role:           d.Role,
		Content:        d.Content,
		ToolCalls:      d.ToolCalls,
		ToolResults:    d.ToolResults,
		PendingResults: d.PendingResults,
		Attributes:     d.Attributes,
		Parent:         parent,
	}
	for _, cd := range d.Replies {
		n.Replies = append(n.Replies, dictToNode(cd, n))
	}
	return n
}

// ToDict renders the tree (and the given label set) to a JSON-safe
// structural snapshot. Fails loudly with a PersistSchemaViolation kind
// if any attached attribute is not JSON-representable (§4.8: "no silent
// stringification").
func (t *Tree) ToDict(labels map[string]*Node) (json.RawMessage, error) {
	rootDict, err := nodeToDict(t.Root)
	if err != nil {
		return nil, err
	}
	labelPaths := make(map[string][]int, len(labels))
	for name, node := range labels {
		labelPaths[name] = node.PathFromRoot()
	}
	return json.Marshal(treeDict{Root: rootDict, Labels: labelPaths})
}

// FromDict reconstructs a Tree and its label set from a snapshot
// produced by ToDict. Parent back-references are rebuilt structurally;
// they are never present in the JSON itself.
func FromDict(raw json.RawMessage) (*Tree, map[string]*Node, error) {
	var td treeDict
	if err := json.Unmarshal(raw, &td); err != nil {
		return nil, nil, loomerr.Wrap(loomerr.KindPersistSchema, "decoding conversation tree", err)
	}
	root := dictToNode(td.Root, nil)
	tree := &Tree{Root: root, Cursor: root}

	labels := make(map[string]*Node, len(td.Labels))
	for name, path := range td.Labels {
		node, err := NodeAtPath(root, path)
		if err != nil {
			return nil, nil, loomerr.Wrap(loomerr.KindPersistSchema, "resolving label \""+name+"\"", err)
		}
		labels[name] = node
	}
	return tree, labels, nil
}

// cloneNode recursively clones n without going through JSON, so any
// non-JSON-safe Attributes value (a wrapped callable, a closure) is
// preserved verbatim — this is the structural analogue of §4.8's
// "richer serializer" deep-copy discipline; in Go there is no
// serialize/deserialize step to lose such a value in the first place.
func cloneNode(n *Node, parent *Node) *Node {
	clone := &Node{
		Role:    n.Role,
		Content: n.Content,
		Parent:  parent,
	}
	if n.ToolCalls != nil {
		clone.ToolCalls = append([]ToolCall{}, n.ToolCalls...)
	}
	if n.ToolResults != nil {
		clone.ToolResults = append([]ToolResult{}, n.ToolResults...)
	}
	if n.PendingResults != nil {
		clone.PendingResults = append([]ToolResult{}, n.PendingResults...)
	}
	if n.Attributes != nil {
		clone.Attributes = make(map[string]any, len(n.Attributes))
		for k, v := range n.Attributes {
			clone.Attributes[k] = v
		}
	}
	for _, child := range n.Replies {
		clone.Replies = append(clone.Replies, cloneNode(child, clone))
	}
	return clone
}

// DeepCopy returns a structurally independent clone of t and the given
// label set, with the clone's cursor at the same tree position as t's
// (remapped by path, since pointers differ). Used by the orchestrator
// (internal/fp) for branch isolation (§4.8, §4.9): branches receive a
// DeepCopy, never a shared *Tree, so concurrent branches cannot observe
// each other's mutations.
func (t *Tree) DeepCopy(labels map[string]*Node) (*Tree, map[string]*Node) {
	cloneRoot := cloneNode(t.Root, nil)
	clone := &Tree{Root: cloneRoot, Cursor: cloneRoot}

	if cursorClone, err := NodeAtPath(cloneRoot, t.Cursor.PathFromRoot()); err == nil {
		clone.Cursor = cursorClone
	}

	cloneLabels := make(map[string]*Node, len(labels))
	for name, n := range labels {
		if nodeClone, err := NodeAtPath(cloneRoot, n.PathFromRoot()); err == nil {
			cloneLabels[name] = nodeClone
		}
	}
	return clone, cloneLabels
}

// DeepestRightmostLeaf returns the default cursor-reanchoring target on
// load: the last leaf reached by always taking the right-most reply
// (§4.8 "last leaf of the deepest right-most path").
func DeepestRightmostLeaf(root *Node) *Node {
	cur := root
	for len(cur.Replies) > 0 {
		cur = cur.Replies[len(cur.Replies)-1]
	}
	return cur
}
