package convo

import "github.com/google/uuid"

// AnchorAttrPrefix names the reserved node-attribute prefix spec.md
// §4.8 describes: a caller-supplied anchor lets the cursor-reanchoring
// step on Load (and DeepCopy) point at a specific node instead of its
// default "deepest right-most leaf" choice. This is the mechanism
// recursive branch_self relies on so an inner branch never "sees" a
// tool call its parent produces concurrently (§9).
const AnchorAttrPrefix = "_branch_self_anchor_"

// NewAnchorKey returns a fresh, collision-resistant anchor attribute
// name, grounded on the teacher's use of google/uuid for correlation
// ids elsewhere in the pack.
func NewAnchorKey() string {
	return AnchorAttrPrefix + uuid.NewString()
}

// SetAnchor tags node with a fresh anchor attribute and returns the key
// used, so the caller can thread it through a save/deep-copy round
// trip without holding a live pointer to node across that boundary.
func SetAnchor(node *Node) string {
	key := NewAnchorKey()
	if node.Attributes == nil {
		node.Attributes = make(map[string]any, 1)
	}
	node.Attributes[key] = true
	return key
}

// FindAndStripAnchor searches the subtree rooted at root, depth-first,
// for a node carrying any attribute key beginning with
// AnchorAttrPrefix. If found, the attribute is removed and the node is
// returned; otherwise FindAndStripAnchor returns nil. At most one
// anchor is expected to be present at a time — if more than one node
// carries one (a caller bug), the first encountered in depth-first
// order wins and the rest are left untouched.
func FindAndStripAnchor(root *Node) *Node {
	for key := range root.Attributes {
		if len(key) >= len(AnchorAttrPrefix) && key[:len(AnchorAttrPrefix)] == AnchorAttrPrefix {
			delete(root.Attributes, key)
			return root
		}
	}
	for _, child := range root.Replies {
		if found := FindAndStripAnchor(child); found != nil {
			return found
		}
	}
	return nil
}

// ReanchorCursor implements spec.md §4.8's load-time cursor placement:
// a stripped anchor attribute wins; otherwise the deepest right-most
// leaf.
func ReanchorCursor(root *Node) *Node {
	if anchor := FindAndStripAnchor(root); anchor != nil {
		return anchor
	}
	return DeepestRightmostLeaf(root)
}
