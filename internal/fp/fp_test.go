package fp

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomkit/loom/internal/botfile"
	"github.com/loomkit/loom/internal/convo"
	"github.com/loomkit/loom/internal/mailbox"
	"github.com/loomkit/loom/internal/stepmachine"
	"github.com/loomkit/loom/internal/toolkit"
)

// echoMailbox answers every send with a deterministic, incrementing
// response so tests can assert on ordering without a network call.
type echoMailbox struct {
	mu     sync.Mutex
	calls  int
	prefix string
}

func (m *echoMailbox) Name() string { return "echo" }

func (m *echoMailbox) BuildRequest(view mailbox.RequestView) (any, error) {
	return view, nil
}

func (m *echoMailbox) Send(ctx context.Context, wireRequest any) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	view := wireRequest.(mailbox.RequestView)
	last := ""
	if len(view.Messages) > 0 {
		last = view.Messages[len(view.Messages)-1].Content
	}
	return fmt.Sprintf("%s%s:%d", m.prefix, last, m.calls), nil
}

func (m *echoMailbox) ExtractText(rawResponse any) string { return rawResponse.(string) }

func (m *echoMailbox) ExtractToolCalls(rawResponse any) []convo.ToolCall { return nil }

func (m *echoMailbox) ExtractUsage(rawResponse any) mailbox.Usage {
	return mailbox.Usage{InputTokens: 1, OutputTokens: 1}
}

func (m *echoMailbox) Classify(err error) mailbox.ErrorClass { return mailbox.ErrorFatal }

// newEchoBot builds a Bot directly over an echoMailbox, bypassing
// botfile.New's engine/credentials resolution since these tests never
// talk to a real provider.
func newEchoBot(prefix string) *botfile.Bot {
	registry := toolkit.NewRegistry()
	machine := stepmachine.New(stepmachine.Config{
		Mailbox:  &echoMailbox{prefix: prefix},
		Registry: registry,
		ModelID:  "echo-model",
	})
	return &botfile.Bot{
		Name:     "echo-bot",
		Tree:     convo.NewTree(),
		Labels:   make(map[string]*convo.Node),
		Registry: registry,
		Machine:  machine,
	}
}

func TestSinglePromptWrapsRespond(t *testing.T) {
	bot := newEchoBot("")
	text, node, err := SinglePrompt(context.Background(), bot, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello:1", text)
	assert.Equal(t, convo.RoleAssistant, node.Role)
}

func TestChainBuildsOnPriorContext(t *testing.T) {
	bot := newEchoBot("")
	responses, nodes, err := Chain(context.Background(), bot, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, responses, 3)
	require.Len(t, nodes, 3)
	assert.Equal(t, "a:1", responses[0])
	assert.Equal(t, "b:2", responses[1])
	assert.Equal(t, "c:3", responses[2])
}

func TestPromptWhileStopsAtNIterations(t *testing.T) {
	bot := newEchoBot("")
	responses, nodes, err := PromptWhile(context.Background(), bot, "go", "continue", NIterations(3))
	require.NoError(t, err)
	assert.Len(t, responses, 3)
	assert.Len(t, nodes, 3)
}

func TestPromptWhileStopsOnToolNotUsed(t *testing.T) {
	bot := newEchoBot("")
	responses, _, err := PromptWhile(context.Background(), bot, "go", "continue", ToolNotUsed)
	require.NoError(t, err)
	// echoMailbox never returns tool calls, so the first turn already
	// satisfies ToolNotUsed.
	assert.Len(t, responses, 1)
}

func TestBranchCreatesOneSiblingPerPromptUnderCursor(t *testing.T) {
	bot := newEchoBot("")
	origCursor := bot.Tree.Cursor
	responses, nodes, err := Branch(context.Background(), bot, []string{"x", "y", "z"})
	require.NoError(t, err)
	require.Len(t, responses, 3)
	require.Len(t, nodes, 3)
	assert.Len(t, origCursor.Replies, 3)
	for i, node := range nodes {
		// node is the assistant reply; its parent is the per-prompt
		// sibling node attached directly under origCursor.
		require.NotNil(t, node.Parent)
		assert.Same(t, origCursor, node.Parent.Parent)
		assert.Equal(t, responses[i], node.Content)
	}
	// The original bot's own cursor is untouched by branching.
	assert.Same(t, origCursor, bot.Tree.Cursor)
}

func TestParBranchReturnsResultsInInputOrderRegardlessOfCompletion(t *testing.T) {
	bot := newEchoBot("")
	prompts := make([]string, 12)
	for i := range prompts {
		prompts[i] = fmt.Sprintf("p%d", i)
	}
	responses, nodes, err := ParBranch(context.Background(), bot, prompts)
	require.NoError(t, err)
	require.Len(t, responses, len(prompts))
	require.Len(t, nodes, len(prompts))
	for i, node := range nodes {
		assert.Equal(t, responses[i], node.Content)
		assert.Contains(t, node.Content, prompts[i])
	}
	assert.Len(t, bot.Tree.Cursor.Replies, len(prompts))
}

func TestBranchWhileIteratesEachBranchIndependently(t *testing.T) {
	bot := newEchoBot("")
	responses, nodes, err := BranchWhile(context.Background(), bot, []string{"a", "b"}, NIterations(2), "more")
	require.NoError(t, err)
	require.Len(t, responses, 2)
	require.Len(t, nodes, 2)
	require.Len(t, bot.Tree.Cursor.Replies, 2)
	// Each branch ran 2 turns (user+assistant per turn), so its final
	// node sits 4 levels below the shared parent: its 3rd ancestor is one
	// of the parent's direct replies and its 4th is the parent itself.
	for _, node := range nodes {
		ancestor := node
		for i := 0; i < 4; i++ {
			require.NotNil(t, ancestor.Parent)
			ancestor = ancestor.Parent
		}
		assert.Same(t, bot.Tree.Cursor, ancestor)
	}
}

func TestBroadcastToLeavesCoversEveryUnskippedLeafInOrder(t *testing.T) {
	bot := newEchoBot("")
	root := bot.Tree.Cursor
	leafA := root.AppendReply(convo.RoleAssistant, "leaf-a", nil)
	leafB := root.AppendReply(convo.RoleAssistant, "leaf-b", nil)
	bot.Labels["skip-me"] = leafB

	responses, nodes, err := BroadcastToLeaves(context.Background(), bot, "ping", []string{"skip-me"})
	require.NoError(t, err)
	require.Len(t, responses, 1)
	require.Len(t, nodes, 1)
	require.NotNil(t, nodes[0].Parent)
	assert.Same(t, leafA, nodes[0].Parent.Parent)
	assert.Len(t, leafA.Replies, 1)
	assert.Len(t, leafB.Replies, 0)
}

func TestTreeOfThoughtRecombinesWithConcatenate(t *testing.T) {
	bot := newEchoBot("")
	text, node, err := TreeOfThought(context.Background(), bot, []string{"p1", "p2"}, Concatenate)
	require.NoError(t, err)
	assert.Contains(t, text, "p1")
	assert.Contains(t, text, "p2")
	assert.Same(t, bot.Tree.Cursor, node)
}

func TestCombineLeavesFoldsCurrentLeafSet(t *testing.T) {
	bot := newEchoBot("")
	root := bot.Tree.Cursor
	root.AppendReply(convo.RoleAssistant, "leaf-1", nil)
	root.AppendReply(convo.RoleAssistant, "leaf-2", nil)

	text, node, err := CombineLeaves(context.Background(), bot, Concatenate)
	require.NoError(t, err)
	assert.Equal(t, "leaf-1\n\nleaf-2", text)
	assert.Same(t, root, node.Parent)
}

func TestParDispatchRunsAcrossDistinctBots(t *testing.T) {
	bots := []*botfile.Bot{newEchoBot("A:"), newEchoBot("B:"), newEchoBot("C:")}
	responses, nodes, err := ParDispatch(context.Background(), bots, func(ctx context.Context, b *botfile.Bot) (string, *convo.Node, error) {
		return SinglePrompt(ctx, b, "hi")
	})
	require.NoError(t, err)
	require.Len(t, responses, 3)
	assert.Equal(t, "A:hi:1", responses[0])
	assert.Equal(t, "B:hi:1", responses[1])
	assert.Equal(t, "C:hi:1", responses[2])
	for i, b := range bots {
		assert.Same(t, nodes[i], b.Tree.Cursor)
	}
}

func TestLLMVoteFallsBackToRawTextWhenUnparsable(t *testing.T) {
	judge := newEchoBot("")
	recombinator := LLMVote(judge, "pick one")
	text, _, err := recombinator(context.Background(), []string{"r1", "r2"}, []*convo.Node{{}, {}})
	require.NoError(t, err)
	// echoMailbox's reply never parses as a bare integer, so the vote
	// degrades to the judge's raw text rather than erroring.
	assert.Contains(t, text, "pick one")
}

func TestRecursiveBranchSelfTerminatesWithAnchor(t *testing.T) {
	// Simulates the §9 "recursive branch_self" hazard: a branch clones
	// the bot, anchors its own cursor, and a nested Branch call inside
	// that clone must not let the inner branch observe the outer
	// branch's subsequent siblings. Depth-2 recursion must simply
	// terminate.
	bot := newEchoBot("")
	depth := 0
	var recurse func(ctx context.Context, b *botfile.Bot, prompt string) (string, *convo.Node, error)
	recurse = func(ctx context.Context, b *botfile.Bot, prompt string) (string, *convo.Node, error) {
		depth++
		if depth >= 2 {
			return SinglePrompt(ctx, b, prompt)
		}
		responses, nodes, err := runBranches(ctx, b, []string{prompt + "-inner"}, recurse, false)
		if err != nil {
			return "", nil, err
		}
		return responses[0], nodes[0], nil
	}

	responses, nodes, err := runBranches(context.Background(), bot, []string{"outer"}, recurse, false)
	require.NoError(t, err)
	assert.Len(t, responses, 1)
	assert.Len(t, nodes, 1)
	assert.Equal(t, 2, depth)
}
