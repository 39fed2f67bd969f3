// Package stepmachine implements respond/_cvsn_respond (spec.md §4.7):
// the send -> extract-text -> extract-tool-calls -> execute-tools ->
// attach-results -> maybe-resend cycle that drives one user-visible
// turn. Grounded on the teacher's internal/agent/loop.go AgenticLoop —
// its phase-tagged state machine and top-of-iteration cancellation
// check are kept; its streaming-chunk channel, async tool jobs,
// approval gating, and session-store persistence are dropped, since
// none of those are named by any SPEC_FULL.md component (persistence
// is internal/botfile's job, not the step machine's).
package stepmachine

import (
	"context"
	"fmt"
	"sync"

	"github.com/loomkit/loom/internal/convo"
	"github.com/loomkit/loom/internal/loomerr"
	"github.com/loomkit/loom/internal/mailbox"
	"github.com/loomkit/loom/internal/signals"
	"github.com/loomkit/loom/internal/toolkit"
)

// Phase names a step for on_step_start/complete, matching the names
// the teacher's LoopState.Phase constants use for the same concept.
type Phase string

const (
	PhaseSend          Phase = "send"
	PhaseExtract       Phase = "extract"
	PhaseExecuteTools  Phase = "execute_tools"
	PhaseAttachResults Phase = "attach_results"
)

// Config is everything a Machine needs to drive turns for one bot: its
// provider adapter, tool registry, model parameters, retry policy, and
// callback dispatcher.
type Config struct {
	Mailbox     mailbox.Mailbox
	Registry    *toolkit.Registry
	System      string
	ModelID     string
	MaxTokens   int
	Temperature float64
	RetryPolicy mailbox.RetryPolicy
	Dispatcher  *signals.Dispatcher
}

// Machine drives respond/_cvsn_respond over one convo.Tree. Within a
// single bot the step machine is serial (spec.md §5): a second Respond
// call while one is in flight fails fast with ConcurrentTurnError
// rather than interleaving turns on the shared registry scratch.
type Machine struct {
	cfg    Config
	busy   bool
	muBusy sync.Mutex

	// muParams guards the subset of cfg a long-running command may hot-
	// reload mid-session (System/MaxTokens/Temperature, via SetParameters)
	// independently of muBusy, which only ever guards the turn-serial
	// busy flag.
	muParams sync.RWMutex
}

// New constructs a Machine. cfg.Dispatcher may be nil, in which case a
// no-op dispatcher is installed so callers never nil-check it.
func New(cfg Config) *Machine {
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = signals.NewDispatcher(nil)
	}
	return &Machine{cfg: cfg}
}

// Mailbox, ModelID, RetryPolicy, and Dispatcher expose the Config a
// Machine was built with, so a caller reconstructing an equivalent
// Machine over a cloned registry (internal/botfile's DeepCopy) never
// needs to thread the original Config alongside the Machine itself.
func (m *Machine) Mailbox() mailbox.Mailbox         { return m.cfg.Mailbox }
func (m *Machine) ModelID() string                  { return m.cfg.ModelID }
func (m *Machine) RetryPolicy() mailbox.RetryPolicy { return m.cfg.RetryPolicy }
func (m *Machine) Dispatcher() *signals.Dispatcher  { return m.cfg.Dispatcher }

// SetParameters updates the system prompt, max tokens, and temperature a
// Machine uses for every Respond call from this point on, leaving its
// Mailbox, Registry, ModelID, and RetryPolicy untouched. This is what
// lets a long-running command (cmd/loom's --watch-config) apply an
// edited loom.yaml to an already-running chat session without tearing
// down and rebuilding the Machine mid-conversation.
func (m *Machine) SetParameters(system string, maxTokens int, temperature float64) {
	m.muParams.Lock()
	defer m.muParams.Unlock()
	m.cfg.System = system
	m.cfg.MaxTokens = maxTokens
	m.cfg.Temperature = temperature
}

func (m *Machine) params() (system string, maxTokens int, temperature float64) {
	m.muParams.RLock()
	defer m.muParams.RUnlock()
	return m.cfg.System, m.cfg.MaxTokens, m.cfg.Temperature
}

func (m *Machine) tryEnter() error {
	m.muBusy.Lock()
	defer m.muBusy.Unlock()
	if m.busy {
		return loomerr.New(loomerr.KindConcurrentTurn, "a respond call is already in flight on this bot")
	}
	m.busy = true
	return nil
}

func (m *Machine) leave() {
	m.muBusy.Lock()
	m.busy = false
	m.muBusy.Unlock()
}

// Respond implements spec.md §4.7's respond(prompt, role="user"): it
// appends prompt as a child under tree's cursor, advances the cursor,
// drives the tool loop, and returns the final textual response and the
// node it ended on.
//
// On an adapter fatal error the cursor is left at the user-prompt node
// (the assistant node is never created) and the error is returned —
// the caller is expected to restore any prior cursor backup and clear
// the tool registry's per-turn scratch, per the spec's failure
// semantics.
func (m *Machine) Respond(ctx context.Context, tree *convo.Tree, prompt string) (string, *convo.Node, error) {
	if err := m.tryEnter(); err != nil {
		return "", nil, err
	}
	defer m.leave()

	userNode := tree.Cursor.AppendReply(convo.RoleUser, prompt, nil)
	tree.Cursor = userNode

	text, node, err := m.cvsnRespond(ctx, tree)
	if err != nil {
		tree.Cursor = userNode
		return "", nil, err
	}
	return text, node, nil
}

// cvsnRespond is the tool loop of spec.md §4.7: it clears the
// registry's per-turn scratch once per respond call, then repeatedly
// sends, extracts, appends an assistant node, and — while the model
// keeps requesting tools — executes them and attaches results before
// resending. It terminates in exactly one iteration for a bot whose
// adapter returns no tool calls.
func (m *Machine) cvsnRespond(ctx context.Context, tree *convo.Tree) (string, *convo.Node, error) {
	m.cfg.Registry.Clear()

	for {
		select {
		case <-ctx.Done():
			return "", nil, loomerr.Wrap(loomerr.KindCancelled, "cancelled before send", ctx.Err())
		default:
		}

		// PendingResults (§9) is a provider-shaping staging area: once
		// the node holding it is about to be sent again, it has done
		// its job and is cleared so ToolResults (durable) is the only
		// place those ids live from here on.
		tree.Cursor.PendingResults = nil

		m.cfg.Dispatcher.StepStart(string(PhaseSend), nil)
		raw, err := m.send(ctx, tree)
		if err != nil {
			m.cfg.Dispatcher.Error(string(loomerr.KindProviderFatal), err.Error())
			return "", nil, err
		}
		m.cfg.Dispatcher.StepComplete(string(PhaseSend), nil)

		usage := m.cfg.Mailbox.ExtractUsage(raw)
		m.cfg.Dispatcher.APIUsage(usage.InputTokens, usage.OutputTokens, usage.CostUSD)

		text := m.cfg.Mailbox.ExtractText(raw)
		rawRequests := m.cfg.Mailbox.ExtractToolCalls(raw)
		requests := m.cfg.Registry.ExtractRequests(rawRequests)

		assistant := tree.Cursor.AppendReply(convo.RoleAssistant, text, requests)
		tree.Cursor = assistant

		if len(requests) == 0 {
			return text, assistant, nil
		}

		m.cfg.Dispatcher.StepStart(string(PhaseExecuteTools), nil)
		results := m.cfg.Registry.ExecRequests(ctx, toolkit.DefaultExecConfig(), m.toolEvent)
		m.cfg.Dispatcher.StepComplete(string(PhaseExecuteTools), nil)

		// ExecRequests returns results in completion order; normalize by
		// request id before attaching so wire order is deterministic
		// regardless of which tool finished first (§5).
		ordered := toolkit.NormalizeByID(requests, results)

		m.cfg.Dispatcher.StepStart(string(PhaseAttachResults), nil)
		assistant.ToolResults = append(assistant.ToolResults, ordered...)
		assistant.PendingResults = append(assistant.PendingResults, ordered...)
		m.cfg.Dispatcher.StepComplete(string(PhaseAttachResults), nil)
	}
}

func (m *Machine) send(ctx context.Context, tree *convo.Tree) (any, error) {
	system, maxTokens, temperature := m.params()
	view := mailbox.RequestView{
		ModelID:     m.cfg.ModelID,
		System:      system,
		Messages:    convo.BuildMessages(tree.Cursor),
		Tools:       m.cfg.Registry.Descriptors(),
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	wireRequest, err := m.cfg.Mailbox.BuildRequest(view)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	return mailbox.SendWithRetry(ctx, m.cfg.Mailbox, wireRequest, m.cfg.RetryPolicy, func(attempt int, cause error) {
		m.cfg.Dispatcher.Retry(attempt, cause)
	})
}

// toolEvent bridges toolkit.EventCallback to the Dispatcher's
// on_tool_start/on_tool_complete hooks (§4.10).
func (m *Machine) toolEvent(event string, toolName string, args []byte, result *convo.ToolResult) {
	switch event {
	case "tool_started":
		m.cfg.Dispatcher.ToolStart(toolName, args)
	case "tool_completed":
		if result != nil {
			m.cfg.Dispatcher.ToolComplete(toolName, args, result.Content, result.IsError)
		}
	}
}
