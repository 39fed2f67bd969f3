package convo

import (
	"fmt"

	"github.com/loomkit/loom/internal/loomerr"
)

// Navigator is the cursor-operations layer over a Tree: up/down/left/
// right/root/label/goto/leaves/goto_leaf (§4.3), plus the label map and
// a single-slot undo snapshot used by the surrounding shell.
type Navigator struct {
	tree   *Tree
	labels map[string]*Node
	backup *Node
}

// NewNavigator wraps tree with an empty label map.
func NewNavigator(tree *Tree) *Navigator {
	return &Navigator{tree: tree, labels: make(map[string]*Node)}
}

// Cursor returns the current cursor node.
func (nv *Navigator) Cursor() *Node { return nv.tree.Cursor }

// Labels returns the navigator's label map, keyed by label name.
func (nv *Navigator) Labels() map[string]*Node { return nv.labels }

// snapshot records the cursor prior to a navigation op into the
// single-slot undo backup, per §4.3: "all navigation snapshots the
// prior cursor into conversation_backup".
func (nv *Navigator) snapshot() {
	nv.backup = nv.tree.Cursor
}

// Undo restores the cursor to the value saved by the most recent
// navigation op, and clears the backup slot (single-slot: a second Undo
// without an intervening navigation is a no-op).
func (nv *Navigator) Undo() {
	if nv.backup == nil {
		return
	}
	nv.tree.Cursor = nv.backup
	nv.backup = nil
}

// Up moves the cursor to its parent. Fails at the root.
func (nv *Navigator) Up() error {
	if nv.tree.Cursor.Parent == nil {
		return loomerr.New(loomerr.KindNavigation, "up: already at root")
	}
	nv.snapshot()
	nv.tree.Cursor = nv.tree.Cursor.Parent
	return nil
}

// ErrAmbiguousChild is returned by Down when the cursor has more than
// one reply and no index was supplied to disambiguate.
var ErrAmbiguousChild = loomerr.New(loomerr.KindNavigation, "down: ambiguous child, index required")

// Down moves to the cursor's sole child, or to replies[idx] when idx is
// supplied (idx >= 0). Passing a negative idx with more than one child
// is an AmbiguousChild failure.
func (nv *Navigator) Down(idx int) error {
	cur := nv.tree.Cursor
	if len(cur.Replies) == 0 {
		return loomerr.New(loomerr.KindNavigation, "down: no replies")
	}
	if idx < 0 {
		if len(cur.Replies) > 1 {
			return ErrAmbiguousChild
		}
		idx = 0
	}
	if idx >= len(cur.Replies) {
		return loomerr.New(loomerr.KindNavigation, fmt.Sprintf("down: index %d out of range (%d replies)", idx, len(cur.Replies)))
	}
	nv.snapshot()
	nv.tree.Cursor = cur.Replies[idx]
	return nil
}

// Left moves the cursor to its previous sibling. Fails at the first
// sibling or at the root.
func (nv *Navigator) Left() error {
	cur := nv.tree.Cursor
	if cur.Parent == nil {
		return loomerr.New(loomerr.KindNavigation, "left: at root")
	}
	i := cur.SiblingIndex()
	if i <= 0 {
		return loomerr.New(loomerr.KindNavigation, "left: already at first sibling")
	}
	nv.snapshot()
	nv.tree.Cursor = cur.Parent.Replies[i-1]
	return nil
}

// Right moves the cursor to its next sibling. Fails at the last
// sibling or at the root.
func (nv *Navigator) Right() error {
	cur := nv.tree.Cursor
	if cur.Parent == nil {
		return loomerr.New(loomerr.KindNavigation, "right: at root")
	}
	i := cur.SiblingIndex()
	if i < 0 || i >= len(cur.Parent.Replies)-1 {
		return loomerr.New(loomerr.KindNavigation, "right: already at last sibling")
	}
	nv.snapshot()
	nv.tree.Cursor = cur.Parent.Replies[i+1]
	return nil
}

// Root moves the cursor to the tree's root.
func (nv *Navigator) Root() {
	nv.snapshot()
	nv.tree.Cursor = nv.tree.Root
}

// Label binds name to the current cursor, moving it if name is already
// bound elsewhere (§4.3: "reassigning a label moves it").
func (nv *Navigator) Label(name string) {
	nv.labels[name] = nv.tree.Cursor
}

// ErrNoSuchLabel is returned by Goto when name is not bound.
var ErrNoSuchLabel = loomerr.New(loomerr.KindNavigation, "goto: no such label")

// Goto moves the cursor to the node bound to name.
func (nv *Navigator) Goto(name string) error {
	node, ok := nv.labels[name]
	if !ok {
		return ErrNoSuchLabel
	}
	nv.snapshot()
	nv.tree.Cursor = node
	return nil
}

// LeafPreview describes one leaf returned by Leaves: its index, the
// path-from-root that reaches it, and a preview of its content.
type LeafPreview struct {
	Index   int
	Path    []int
	Node    *Node
	Preview string
}

const previewLen = 80

// Leaves enumerates every leaf in the subtree below the cursor, in
// depth-first left-to-right order with stable indices (§4.2, §4.3).
func (nv *Navigator) Leaves() []LeafPreview {
	nodes := nv.tree.Cursor.FindLeaves()
	out := make([]LeafPreview, 0, len(nodes))
	for i, n := range nodes {
		preview := n.Content
		if len(preview) > previewLen {
			preview = preview[:previewLen]
		}
		out = append(out, LeafPreview{Index: i, Path: n.PathFromRoot(), Node: n, Preview: preview})
	}
	return out
}

// GotoLeaf moves the cursor to the k-th leaf below the current cursor,
// per the same ordering as Leaves.
func (nv *Navigator) GotoLeaf(k int) error {
	leaves := nv.Leaves()
	if k < 0 || k >= len(leaves) {
		return loomerr.New(loomerr.KindNavigation, fmt.Sprintf("goto_leaf: index %d out of range (%d leaves)", k, len(leaves)))
	}
	nv.snapshot()
	nv.tree.Cursor = leaves[k].Node
	return nil
}
