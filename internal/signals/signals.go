// Package signals implements the step machine's callback set and
// cooperative cancellation (spec.md §4.10): a synchronous,
// fire-and-forget dispatcher for on_step_start/complete,
// on_tool_start/complete, on_retry, on_error, and on_api_usage, plus a
// cancellation flag sampled at the granularity the spec requires.
//
// Grounded on the teacher's internal/agent/plugin.go PluginRegistry
// (panic-recovering, registration-ordered dispatch) generalized from a
// single OnEvent hook to the step machine's seven distinct callback
// kinds, and on event_emitter.go's run-scoped sequencing idiom.
package signals

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// PollInterval is the cancellation sampling granularity spec.md §4.10
// requires ("≤ 100ms"). WithCancelFlag polls at this interval.
const PollInterval = 100 * time.Millisecond

// Hooks is the optional callback set a caller attaches to a step
// machine run. Every field may be nil; each Dispatcher method skips a
// nil hook. Hooks are called synchronously and must not block — the
// step machine never waits on a hook's return beyond the call itself.
type Hooks struct {
	OnStepStart    func(step string, meta map[string]any)
	OnStepComplete func(step string, meta map[string]any)
	OnToolStart    func(toolName string, args []byte)
	OnToolComplete func(toolName string, args []byte, result string, isError bool)
	OnRetry        func(attempt int, cause error)
	OnError        func(kind string, detail string)
	OnAPIUsage     func(inputTokens, outputTokens int, costUSD float64)
}

// Dispatcher fans out to zero or more Hooks, recovering from any panic
// inside a hook so a broken callback can never abort the turn it is
// observing — the same guarantee the teacher's PluginRegistry.Emit
// gives plugins.
type Dispatcher struct {
	mu    sync.RWMutex
	hooks []Hooks
	log   *slog.Logger
}

// NewDispatcher returns a Dispatcher that also logs on_error events via
// logger (nil uses slog.Default()), matching the ambient structured
// logging every other package in this module uses.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{log: logger}
}

// Attach registers a Hooks set. Hooks fire in registration order.
func (d *Dispatcher) Attach(h Hooks) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = append(d.hooks, h)
}

func (d *Dispatcher) snapshot() []Hooks {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Hooks, len(d.hooks))
	copy(out, d.hooks)
	return out
}

func safeCall(fn func()) {
	defer func() {
		_ = recover()
	}()
	fn()
}

func (d *Dispatcher) StepStart(step string, meta map[string]any) {
	for _, h := range d.snapshot() {
		if h.OnStepStart != nil {
			hook := h.OnStepStart
			safeCall(func() { hook(step, meta) })
		}
	}
}

func (d *Dispatcher) StepComplete(step string, meta map[string]any) {
	for _, h := range d.snapshot() {
		if h.OnStepComplete != nil {
			hook := h.OnStepComplete
			safeCall(func() { hook(step, meta) })
		}
	}
}

func (d *Dispatcher) ToolStart(toolName string, args []byte) {
	for _, h := range d.snapshot() {
		if h.OnToolStart != nil {
			hook := h.OnToolStart
			safeCall(func() { hook(toolName, args) })
		}
	}
}

func (d *Dispatcher) ToolComplete(toolName string, args []byte, result string, isError bool) {
	for _, h := range d.snapshot() {
		if h.OnToolComplete != nil {
			hook := h.OnToolComplete
			safeCall(func() { hook(toolName, args, result, isError) })
		}
	}
}

func (d *Dispatcher) Retry(attempt int, cause error) {
	for _, h := range d.snapshot() {
		if h.OnRetry != nil {
			hook := h.OnRetry
			safeCall(func() { hook(attempt, cause) })
		}
	}
}

// Error fans out on_error and always logs, regardless of whether any
// hook is attached — on_error is the one callback this module treats
// as ambient observability rather than purely optional.
func (d *Dispatcher) Error(kind, detail string) {
	d.log.Error("step machine error", "kind", kind, "detail", detail)
	for _, h := range d.snapshot() {
		if h.OnError != nil {
			hook := h.OnError
			safeCall(func() { hook(kind, detail) })
		}
	}
}

func (d *Dispatcher) APIUsage(inputTokens, outputTokens int, costUSD float64) {
	for _, h := range d.snapshot() {
		if h.OnAPIUsage != nil {
			hook := h.OnAPIUsage
			safeCall(func() { hook(inputTokens, outputTokens, costUSD) })
		}
	}
}

// CancelFlag is a cooperative cancellation signal a supervisor sets
// from outside the running turn. It is distinct from context
// cancellation: WithCancelFlag derives a context that is done either
// when parent is done or when the flag is set, polled at PollInterval,
// satisfying spec.md's "samples a cancellation flag at fine
// granularity (≤ 100ms)".
type CancelFlag struct {
	flag atomic.Bool
}

// Set marks the flag cancelled. Idempotent.
func (c *CancelFlag) Set() { c.flag.Store(true) }

// IsSet reports whether Set has been called.
func (c *CancelFlag) IsSet() bool { return c.flag.Load() }

// WithCancelFlag returns a context derived from parent that is done
// when parent is done or when flag becomes set, whichever comes first.
// The returned cancel func must be called to release the polling
// goroutine once the caller is done, even on the parent-done path.
func WithCancelFlag(parent context.Context, flag *CancelFlag) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := make(chan struct{})
	var stopOnce sync.Once
	go func() {
		ticker := time.NewTicker(PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-parent.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if flag.IsSet() {
					cancel()
					return
				}
			}
		}
	}()
	return ctx, func() {
		stopOnce.Do(func() { close(stop) })
		cancel()
	}
}
