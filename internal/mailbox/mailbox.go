// Package mailbox implements the provider adapter capability set (§4.6
// of the spec): one Mailbox per provider (anthropic, openai, gemini)
// mapping the internal conversation to a provider request, parsing its
// response, and extracting tool requests and usage. The step machine
// (internal/stepmachine) calls only this interface and trusts the
// adapter with all provider-specific shaping.
package mailbox

import (
	"context"

	"github.com/loomkit/loom/internal/convo"
	"github.com/loomkit/loom/internal/toolkit"
)

// RequestView is everything a Mailbox needs to build a wire request: it
// is assembled by the step machine from the bot's conversation tree and
// configuration and handed to BuildRequest unchanged.
type RequestView struct {
	ModelID     string
	System      string
	Messages    []convo.Message
	Tools       []toolkit.Descriptor
	MaxTokens   int
	Temperature float64
}

// Usage is the token/cost accounting extracted from a raw response.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// RetryCallback observes each retry attempt, wired to the bot's
// on_retry callback (§4.10).
type RetryCallback func(attempt int, cause error)

// Mailbox is the provider adapter capability set of §4.6. wireRequest
// and rawResponse are provider-specific (a *anthropic.MessageNewParams/
// *anthropic.Message pair, an OpenAI request/response pair, or a genai
// content/response pair) and are never inspected outside the owning
// adapter — the step machine only ever passes them back to the same
// Mailbox that produced them.
type Mailbox interface {
	// Name identifies the provider this Mailbox drives ("anthropic",
	// "openai", "gemini").
	Name() string

	// BuildRequest composes a wire request from view.
	BuildRequest(view RequestView) (wireRequest any, err error)

	// Send performs a single network call, honoring ctx for timeout and
	// cancellation (§4.6, §5). It does not retry; callers that want
	// retries use SendWithRetry.
	Send(ctx context.Context, wireRequest any) (rawResponse any, err error)

	// ExtractText returns the textual portion of rawResponse.
	ExtractText(rawResponse any) string

	// ExtractToolCalls returns every tool-use request in rawResponse.
	ExtractToolCalls(rawResponse any) []convo.ToolCall

	// ExtractUsage returns token counts. The bundled adapters leave
	// CostUSD at zero; no cost is computed here.
	ExtractUsage(rawResponse any) Usage

	// Classify maps a transport/SDK error to the taxonomy of §7, so the
	// retry loop (retry.go) can decide whether it is transient or
	// fatal.
	Classify(err error) ErrorClass
}

// ErrorClass is the adapter's verdict on a failed Send call.
type ErrorClass int

const (
	// ErrorTransient covers network errors, timeouts, 429, and 5xx —
	// retried by SendWithRetry.
	ErrorTransient ErrorClass = iota
	// ErrorFatal covers 4xx (other than 429), malformed responses, and
	// authentication failures — aborts the turn immediately.
	ErrorFatal
)
