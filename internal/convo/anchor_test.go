package convo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindAndStripAnchorReturnsTaggedNodeAndStripsAttribute(t *testing.T) {
	tree := NewTree()
	u1 := tree.Root.AppendReply(RoleUser, "hi", nil)
	a1 := u1.AppendReply(RoleAssistant, "hello", nil)
	a2 := u1.AppendReply(RoleAssistant, "hi again", nil)

	key := SetAnchor(a1)
	require.True(t, strings.HasPrefix(key, AnchorAttrPrefix))

	found := FindAndStripAnchor(tree.Root)
	require.NotNil(t, found)
	assert.Same(t, a1, found)
	assert.NotContains(t, a1.Attributes, key)
	assert.Empty(t, a2.Attributes)
}

func TestFindAndStripAnchorReturnsNilWhenAbsent(t *testing.T) {
	tree := NewTree()
	tree.Root.AppendReply(RoleUser, "hi", nil)
	assert.Nil(t, FindAndStripAnchor(tree.Root))
}

func TestReanchorCursorPrefersAnchorOverDeepestRightmostLeaf(t *testing.T) {
	tree := NewTree()
	u1 := tree.Root.AppendReply(RoleUser, "hi", nil)
	a1 := u1.AppendReply(RoleAssistant, "first branch", nil)
	a2 := u1.AppendReply(RoleAssistant, "second branch", nil)
	a2.AppendReply(RoleUser, "deeper on the right", nil)

	SetAnchor(a1)
	assert.Same(t, a1, ReanchorCursor(tree.Root))
}

func TestReanchorCursorFallsBackToDeepestRightmostLeaf(t *testing.T) {
	tree := NewTree()
	u1 := tree.Root.AppendReply(RoleUser, "hi", nil)
	u1.AppendReply(RoleAssistant, "left", nil)
	right := u1.AppendReply(RoleAssistant, "right", nil)
	deepest := right.AppendReply(RoleUser, "deepest", nil)

	assert.Same(t, deepest, ReanchorCursor(tree.Root))
}

func TestDeepCopyPreservesStructureAndCursorPosition(t *testing.T) {
	tree := NewTree()
	u1 := tree.Root.AppendReply(RoleUser, "hi", nil)
	a1 := u1.AppendReply(RoleAssistant, "hello", nil)
	a1.Attributes = map[string]any{"note": "x"}
	tree.Cursor = a1

	clone, labels := tree.DeepCopy(map[string]*Node{"greet": a1})

	require.NotSame(t, tree.Root, clone.Root)
	assert.Equal(t, tree.Root.SubtreeSize(), clone.Root.SubtreeSize())
	require.NotNil(t, clone.Cursor)
	assert.Equal(t, "hello", clone.Cursor.Content)
	assert.NotSame(t, a1, clone.Cursor)

	greet, ok := labels["greet"]
	require.True(t, ok)
	assert.Equal(t, "hello", greet.Content)

	// Mutating the clone must never affect the original.
	clone.Cursor.Content = "mutated"
	assert.Equal(t, "hello", a1.Content)
}
