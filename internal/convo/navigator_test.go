package convo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSampleTree() *Tree {
	tree := NewTree()
	u1 := tree.Root.AppendReply(RoleUser, "hello", nil)
	a1 := u1.AppendReply(RoleAssistant, "hi there", nil)
	_ = a1.AppendReply(RoleUser, "branch A", nil)
	_ = a1.AppendReply(RoleUser, "branch B", nil)
	tree.Cursor = a1
	return tree
}

func TestUpDownRoundTrip(t *testing.T) {
	tree := buildSampleTree()
	nv := NewNavigator(tree)

	require.NoError(t, nv.Up())
	assert.Equal(t, RoleUser, nv.Cursor().Role)

	err := nv.Down(-1)
	require.NoError(t, err)
	assert.Equal(t, RoleAssistant, nv.Cursor().Role)
}

func TestDownAmbiguousChildRequiresIndex(t *testing.T) {
	tree := buildSampleTree()
	nv := NewNavigator(tree)

	err := nv.Down(-1)
	assert.ErrorIs(t, err, ErrAmbiguousChild)

	require.NoError(t, nv.Down(1))
	assert.Equal(t, "branch B", nv.Cursor().Content)
}

func TestLeftRightAmongSiblings(t *testing.T) {
	tree := buildSampleTree()
	nv := NewNavigator(tree)
	require.NoError(t, nv.Down(0))
	assert.Equal(t, "branch A", nv.Cursor().Content)

	require.NoError(t, nv.Right())
	assert.Equal(t, "branch B", nv.Cursor().Content)

	assert.Error(t, nv.Right())

	require.NoError(t, nv.Left())
	assert.Equal(t, "branch A", nv.Cursor().Content)
	assert.Error(t, nv.Left())
}

func TestLabelGotoReturnsToExactNode(t *testing.T) {
	tree := buildSampleTree()
	nv := NewNavigator(tree)
	require.NoError(t, nv.Down(0))
	nv.Label("checkpoint")

	require.NoError(t, nv.Up())
	require.NoError(t, nv.Down(1))
	assert.Equal(t, "branch B", nv.Cursor().Content)

	require.NoError(t, nv.Goto("checkpoint"))
	assert.Equal(t, "branch A", nv.Cursor().Content)
}

func TestGotoNoSuchLabel(t *testing.T) {
	tree := buildSampleTree()
	nv := NewNavigator(tree)
	err := nv.Goto("missing")
	assert.ErrorIs(t, err, ErrNoSuchLabel)
}

func TestLeavesDeterministicOrder(t *testing.T) {
	tree := buildSampleTree()
	nv := NewNavigator(tree)
	nv.Root()

	leaves := nv.Leaves()
	require.Len(t, leaves, 2)
	assert.Equal(t, "branch A", leaves[0].Preview)
	assert.Equal(t, "branch B", leaves[1].Preview)
}

func TestGotoLeaf(t *testing.T) {
	tree := buildSampleTree()
	nv := NewNavigator(tree)
	nv.Root()
	require.NoError(t, nv.GotoLeaf(1))
	assert.Equal(t, "branch B", nv.Cursor().Content)

	err := nv.GotoLeaf(5)
	assert.Error(t, err)
}

func TestUpAtRootFails(t *testing.T) {
	tree := NewTree()
	nv := NewNavigator(tree)
	assert.Error(t, nv.Up())
}
