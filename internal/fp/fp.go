// Package fp implements the functional-prompt orchestrator (spec.md
// §4.9): composable primitives built over botfile.Bot and the
// convo.Tree it owns. Every primitive that needs branch isolation
// obtains it via botfile.Bot.DeepCopy plus convo's cursor-anchor
// mechanism, and converges by grafting the branch's resulting subtree
// back onto the original tree through convo.Tree.AttachSubtree, which
// serializes concurrent re-attachment under a single mutex (§5).
//
// Grounded on the teacher's internal/agent/tool_exec.go
// ExecuteConcurrently for the semaphore-bounded, index-ordered fan-out
// shape reused here for par_branch, broadcast_to_leaves, and
// par_dispatch — wg.Add per item, a buffered channel as a concurrency
// gate, and a result slice addressed by input index so completion
// order never leaks into the returned order (§5's ordering guarantee).
package fp

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/loomkit/loom/internal/botfile"
	"github.com/loomkit/loom/internal/convo"
	"github.com/loomkit/loom/internal/loomerr"
)

// DefaultConcurrency bounds fan-out primitives, matching the teacher's
// default tool-execution concurrency (internal/toolkit.DefaultExecConfig).
const DefaultConcurrency = 4

// TurnState is the post-turn snapshot a StopCondition inspects. Err is
// set only when the triggering respond call itself failed. PromptWhile
// (and the loops built on it) returns a failed turn's error without
// consulting its StopCondition, so a condition run by those loops always
// sees a nil Err.
type TurnState struct {
	Bot       *botfile.Bot
	Text      string
	Node      *convo.Node
	Iteration int
	Err       error
}

// StopCondition decides whether a prompt_while/chain_while/*_while loop
// should stop after the turn described by s.
type StopCondition func(s *TurnState) bool

// ToolNotUsed stops once the last assistant node requested no tools.
func ToolNotUsed(s *TurnState) bool {
	return s.Node == nil || len(s.Node.ToolCalls) == 0
}

// SaidDone stops once the response contains the literal marker "DONE".
func SaidDone(s *TurnState) bool {
	return strings.Contains(s.Text, "DONE")
}

// SaidReady stops once the response contains the literal marker "READY".
func SaidReady(s *TurnState) bool {
	return strings.Contains(s.Text, "READY")
}

// NIterations stops after k turns have completed.
func NIterations(k int) StopCondition {
	return func(s *TurnState) bool { return s.Iteration >= k }
}

// ErrorInResponse reports whether s.Err is set. PromptWhile already
// stops on a failed turn before consulting its condition, so under
// PromptWhile this condition never returns true.
func ErrorInResponse(s *TurnState) bool {
	return s.Err != nil
}

// SinglePrompt is a thin wrapper over Bot.Respond (§4.9).
func SinglePrompt(ctx context.Context, bot *botfile.Bot, prompt string) (string, *convo.Node, error) {
	return bot.Respond(ctx, prompt)
}

// Chain sends prompts in sequence on bot, each building on the
// previous turn's context. It stops at the first error, returning the
// responses and nodes collected so far alongside it.
func Chain(ctx context.Context, bot *botfile.Bot, prompts []string) ([]string, []*convo.Node, error) {
	responses := make([]string, 0, len(prompts))
	nodes := make([]*convo.Node, 0, len(prompts))
	for _, prompt := range prompts {
		text, node, err := bot.Respond(ctx, prompt)
		if err != nil {
			return responses, nodes, err
		}
		responses = append(responses, text)
		nodes = append(nodes, node)
	}
	return responses, nodes, nil
}

// PromptWhile sends initial, then repeatedly sends continuePrompt until
// stop reports true on the most recent turn.
func PromptWhile(ctx context.Context, bot *botfile.Bot, initial, continuePrompt string, stop StopCondition) ([]string, []*convo.Node, error) {
	var responses []string
	var nodes []*convo.Node

	prompt := initial
	iteration := 0
	for {
		text, node, err := bot.Respond(ctx, prompt)
		iteration++
		state := &TurnState{Bot: bot, Text: text, Node: node, Iteration: iteration, Err: err}
		if err != nil {
			return responses, nodes, err
		}
		responses = append(responses, text)
		nodes = append(nodes, node)
		if stop(state) {
			return responses, nodes, nil
		}
		prompt = continuePrompt
	}
}

// ChainWhile runs prompt_while for each entry in prompts in turn, each
// iterating to the same stop condition before the chain advances to
// the next prompt.
func ChainWhile(ctx context.Context, bot *botfile.Bot, prompts []string, stop StopCondition, continuePrompt string) ([]string, []*convo.Node, error) {
	var responses []string
	var nodes []*convo.Node
	for _, prompt := range prompts {
		r, n, err := PromptWhile(ctx, bot, prompt, continuePrompt, stop)
		responses = append(responses, r...)
		nodes = append(nodes, n...)
		if err != nil {
			return responses, nodes, err
		}
	}
	return responses, nodes, nil
}

// BranchRunner produces one branch's final response/node from a
// deep-copied bot. SinglePrompt satisfies this directly; BranchWhile
// and ParBranchWhile adapt PromptWhile to it.
type BranchRunner func(ctx context.Context, bot *botfile.Bot, prompt string) (string, *convo.Node, error)

// subtreeRootAfter walks up from descendant until it finds the direct
// child of anchor, i.e. the root of the subtree a branch produced.
func subtreeRootAfter(anchor, descendant *convo.Node) *convo.Node {
	cur := descendant
	for cur != nil && cur.Parent != anchor {
		cur = cur.Parent
	}
	return cur
}

// relativePath returns the reply-index path from from down to to,
// which must be a descendant of from (or from itself).
func relativePath(from, to *convo.Node) []int {
	var path []int
	cur := to
	for cur != from && cur != nil {
		path = append([]int{cur.SiblingIndex()}, path...)
		cur = cur.Parent
	}
	return path
}

// runBranches is the shared engine behind branch/branch_while/par_branch/
// par_branch_while: each prompt runs against its own DeepCopy of bot
// with an anchored cursor, and on success its resulting subtree is
// grafted back under bot's current cursor. Sequential when parallel is
// false; otherwise fanned out with a DefaultConcurrency-wide semaphore,
// with results still addressed by input index (§5).
func runBranches(ctx context.Context, bot *botfile.Bot, prompts []string, runner BranchRunner, parallel bool) ([]string, []*convo.Node, error) {
	parent := bot.Tree.Cursor
	n := len(prompts)
	responses := make([]string, n)
	nodes := make([]*convo.Node, n)
	errs := make([]error, n)

	run := func(i int) {
		clone := bot.DeepCopy()
		anchor := clone.Tree.Cursor
		convo.SetAnchor(anchor)

		text, node, err := runner(ctx, clone, prompts[i])
		if err != nil {
			errs[i] = err
			return
		}
		subtreeRoot := subtreeRootAfter(anchor, node)
		if subtreeRoot == nil {
			errs[i] = loomerr.New(loomerr.KindNavigation, "branch produced no node to attach")
			return
		}
		rel := relativePath(subtreeRoot, node)

		attachedRoot := bot.Tree.AttachSubtree(parent, subtreeRoot)
		finalNode, err := convo.NodeAtPath(attachedRoot, rel)
		if err != nil {
			errs[i] = err
			return
		}
		responses[i] = text
		nodes[i] = finalNode
	}

	if !parallel {
		for i := range prompts {
			run(i)
			if errs[i] != nil {
				break
			}
		}
	} else {
		sem := make(chan struct{}, DefaultConcurrency)
		var wg sync.WaitGroup
		for i := range prompts {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					errs[idx] = loomerr.Wrap(loomerr.KindCancelled, "branch cancelled before start", ctx.Err())
					return
				}
				run(idx)
			}(i)
		}
		wg.Wait()
	}

	for _, err := range errs {
		if err != nil {
			return responses, nodes, err
		}
	}
	return responses, nodes, nil
}

// Branch creates one sibling reply per prompt under bot's current
// cursor, each produced by an isolated branch (§4.9).
func Branch(ctx context.Context, bot *botfile.Bot, prompts []string) ([]string, []*convo.Node, error) {
	return runBranches(ctx, bot, prompts, SinglePrompt, false)
}

// ParBranch is Branch with branches run concurrently. Results are
// still returned in input-prompt order (§5).
func ParBranch(ctx context.Context, bot *botfile.Bot, prompts []string) ([]string, []*convo.Node, error) {
	return runBranches(ctx, bot, prompts, SinglePrompt, true)
}

func whileRunner(stop StopCondition, continuePrompt string) BranchRunner {
	return func(ctx context.Context, bot *botfile.Bot, prompt string) (string, *convo.Node, error) {
		responses, nodes, err := PromptWhile(ctx, bot, prompt, continuePrompt, stop)
		if err != nil {
			return "", nil, err
		}
		return responses[len(responses)-1], nodes[len(nodes)-1], nil
	}
}

// BranchWhile is Branch, but each branch iterates with continuePrompt
// until stop holds before its subtree is grafted back.
func BranchWhile(ctx context.Context, bot *botfile.Bot, prompts []string, stop StopCondition, continuePrompt string) ([]string, []*convo.Node, error) {
	return runBranches(ctx, bot, prompts, whileRunner(stop, continuePrompt), false)
}

// ParBranchWhile is BranchWhile with branches run concurrently.
func ParBranchWhile(ctx context.Context, bot *botfile.Bot, prompts []string, stop StopCondition, continuePrompt string) ([]string, []*convo.Node, error) {
	return runBranches(ctx, bot, prompts, whileRunner(stop, continuePrompt), true)
}

// LeafRunner produces one leaf's response from a bot whose cursor has
// been relocated to a clone of that leaf.
type LeafRunner func(ctx context.Context, leafBot *botfile.Bot, leaf *convo.Node) (string, *convo.Node, error)

// BroadcastFP runs runner once per leaf under bot's current cursor,
// skipping any leaf carrying a label named in skip, and grafts each
// leaf's resulting subtree back under that leaf. Parallel by default.
func BroadcastFP(ctx context.Context, bot *botfile.Bot, skip []string, runner LeafRunner) ([]string, []*convo.Node, error) {
	leaves := bot.Tree.Cursor.FindLeaves()

	skipSet := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipSet[s] = true
	}
	skipNodes := make(map[*convo.Node]bool)
	for label, node := range bot.Labels {
		if skipSet[label] {
			skipNodes[node] = true
		}
	}

	type item struct {
		leaf *convo.Node
	}
	var items []item
	for _, leaf := range leaves {
		if skipNodes[leaf] {
			continue
		}
		items = append(items, item{leaf: leaf})
	}

	n := len(items)
	responses := make([]string, n)
	nodes := make([]*convo.Node, n)
	errs := make([]error, n)

	run := func(pos int) {
		leaf := items[pos].leaf
		clone := bot.DeepCopy()
		clonedLeaf, err := convo.NodeAtPath(clone.Tree.Root, leaf.PathFromRoot())
		if err != nil {
			errs[pos] = err
			return
		}
		clone.Tree.Cursor = clonedLeaf
		convo.SetAnchor(clonedLeaf)

		text, node, err := runner(ctx, clone, clonedLeaf)
		if err != nil {
			errs[pos] = err
			return
		}
		subtreeRoot := subtreeRootAfter(clonedLeaf, node)
		if subtreeRoot == nil {
			errs[pos] = loomerr.New(loomerr.KindNavigation, "broadcast produced no node to attach")
			return
		}
		rel := relativePath(subtreeRoot, node)

		attachedRoot := bot.Tree.AttachSubtree(leaf, subtreeRoot)
		finalNode, err := convo.NodeAtPath(attachedRoot, rel)
		if err != nil {
			errs[pos] = err
			return
		}
		responses[pos] = text
		nodes[pos] = finalNode
	}

	sem := make(chan struct{}, DefaultConcurrency)
	var wg sync.WaitGroup
	for pos := range items {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errs[p] = loomerr.Wrap(loomerr.KindCancelled, "broadcast cancelled before start", ctx.Err())
				return
			}
			run(p)
		}(pos)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return responses, nodes, err
		}
	}
	return responses, nodes, nil
}

// BroadcastToLeaves sends prompt to every unskipped leaf under bot's
// cursor (§4.9's default, single_prompt-driven, broadcast form).
func BroadcastToLeaves(ctx context.Context, bot *botfile.Bot, prompt string, skip []string) ([]string, []*convo.Node, error) {
	return BroadcastFP(ctx, bot, skip, func(ctx context.Context, leafBot *botfile.Bot, _ *convo.Node) (string, *convo.Node, error) {
		return leafBot.Respond(ctx, prompt)
	})
}

// Recombinator folds a set of branch/leaf responses into one
// (text, carrier-node) pair. The carrier node's Role and ToolCalls are
// read by recombineUnderCursor when grafting the fold's result; its
// Parent/Replies are never inspected and it need not belong to any
// Tree.
type Recombinator func(ctx context.Context, responses []string, nodes []*convo.Node) (string, *convo.Node, error)

// recombineUnderCursor appends recombinator's fold as a single new
// child of bot's current cursor, advancing the cursor onto it.
func recombineUnderCursor(ctx context.Context, bot *botfile.Bot, responses []string, nodes []*convo.Node, recombinator Recombinator) (string, *convo.Node, error) {
	text, carrier, err := recombinator(ctx, responses, nodes)
	if err != nil {
		return "", nil, err
	}
	role := convo.RoleAssistant
	var toolCalls []convo.ToolCall
	if carrier != nil {
		role = carrier.Role
		toolCalls = carrier.ToolCalls
	}
	attached := bot.Tree.Cursor.AppendReply(role, text, toolCalls)
	bot.Tree.Cursor = attached
	return text, attached, nil
}

// TreeOfThought branches over prompts concurrently, then folds the
// branch outputs with recombinator into a single node re-attached
// under bot's original cursor.
func TreeOfThought(ctx context.Context, bot *botfile.Bot, prompts []string, recombinator Recombinator) (string, *convo.Node, error) {
	responses, nodes, err := ParBranch(ctx, bot, prompts)
	if err != nil {
		return "", nil, err
	}
	return recombineUnderCursor(ctx, bot, responses, nodes, recombinator)
}

// CombineLeaves folds the current leaf set under bot's cursor with
// recombinator, without spawning any new branches.
func CombineLeaves(ctx context.Context, bot *botfile.Bot, recombinator Recombinator) (string, *convo.Node, error) {
	leaves := bot.Tree.Cursor.FindLeaves()
	responses := make([]string, len(leaves))
	for i, leaf := range leaves {
		responses[i] = leaf.Content
	}
	return recombineUnderCursor(ctx, bot, responses, leaves, recombinator)
}

// Primitive is any functional prompt runnable over a single bot,
// matching the shape single_prompt/tree_of_thought/etc. return.
type Primitive func(ctx context.Context, bot *botfile.Bot) (string, *convo.Node, error)

// ParDispatch runs fn once per bot in bots, concurrently, for
// cross-provider or cross-configuration A/B comparisons. Unlike
// Branch/ParBranch there is no shared tree to graft onto: each bot is
// already distinct and is mutated in place by fn.
func ParDispatch(ctx context.Context, bots []*botfile.Bot, fn Primitive) ([]string, []*convo.Node, error) {
	n := len(bots)
	responses := make([]string, n)
	nodes := make([]*convo.Node, n)
	errs := make([]error, n)

	sem := make(chan struct{}, DefaultConcurrency)
	var wg sync.WaitGroup
	for i := range bots {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errs[idx] = loomerr.Wrap(loomerr.KindCancelled, "dispatch cancelled before start", ctx.Err())
				return
			}
			text, node, err := fn(ctx, bots[idx])
			if err != nil {
				errs[idx] = err
				return
			}
			responses[idx] = text
			nodes[idx] = node
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return responses, nodes, err
		}
	}
	return responses, nodes, nil
}

// Concatenate joins responses with a blank line between each, carrying
// the first node's role (assistant if there are no nodes).
func Concatenate(_ context.Context, responses []string, nodes []*convo.Node) (string, *convo.Node, error) {
	role := convo.RoleAssistant
	if len(nodes) > 0 && nodes[0] != nil {
		role = nodes[0].Role
	}
	return strings.Join(responses, "\n\n"), &convo.Node{Role: role}, nil
}

func formatCandidates(responses []string) string {
	var b strings.Builder
	for i, r := range responses {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, r)
	}
	return b.String()
}

// LLMMerge returns a Recombinator that asks helper to synthesize one
// answer out of the candidates, guided by instruction.
func LLMMerge(helper *botfile.Bot, instruction string) Recombinator {
	return func(ctx context.Context, responses []string, _ []*convo.Node) (string, *convo.Node, error) {
		prompt := instruction + "\n\nCandidates:\n" + formatCandidates(responses)
		return helper.Respond(ctx, prompt)
	}
}

// LLMJudge returns a Recombinator that asks helper to critique the
// candidates and produce a final verdict, guided by instruction.
func LLMJudge(helper *botfile.Bot, instruction string) Recombinator {
	return func(ctx context.Context, responses []string, _ []*convo.Node) (string, *convo.Node, error) {
		prompt := instruction + "\n\nCandidates to judge:\n" + formatCandidates(responses)
		return helper.Respond(ctx, prompt)
	}
}

func parseVoteIndex(text string, n int) (int, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return 0, fmt.Errorf("fp: empty vote response")
	}
	num, err := strconv.Atoi(strings.Trim(fields[0], ".,:()[]"))
	if err != nil {
		return 0, fmt.Errorf("fp: unparsable vote response %q: %w", text, err)
	}
	idx := num - 1
	if idx < 0 || idx >= n {
		return 0, fmt.Errorf("fp: vote index %d out of range [1,%d]", num, n)
	}
	return idx, nil
}

// LLMVote returns a Recombinator that asks helper to pick the best
// candidate by number; if the helper's answer can't be parsed as a
// valid index, the helper's raw text is returned instead of an error,
// since a vote recombinator degrading to a judge-style answer is more
// useful than aborting the fold.
func LLMVote(helper *botfile.Bot, instruction string) Recombinator {
	return func(ctx context.Context, responses []string, nodes []*convo.Node) (string, *convo.Node, error) {
		prompt := instruction + "\n\nCandidates:\n" + formatCandidates(responses) +
			"\nRespond with only the number of the best candidate."
		text, node, err := helper.Respond(ctx, prompt)
		if err != nil {
			return "", nil, err
		}
		idx, perr := parseVoteIndex(text, len(responses))
		if perr != nil {
			return text, node, nil
		}
		return responses[idx], nodes[idx], nil
	}
}
