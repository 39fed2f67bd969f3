package mailbox

import (
	"context"
	"fmt"

	"github.com/loomkit/loom/internal/engine"
)

// New constructs the Mailbox adapter for e's provider, using apiKey as
// the credential (internal/credentials.Lookup supplies it; this
// function never reads the environment itself, so it stays testable
// with a fake key). ctx is only consulted by the Gemini client
// constructor, which performs its own setup call.
func New(ctx context.Context, e engine.Engine, apiKey string) (Mailbox, error) {
	switch e.Provider {
	case engine.ProviderAnthropic:
		return NewAnthropicMailbox(apiKey, ""), nil
	case engine.ProviderOpenAI:
		return NewOpenAIMailbox(apiKey, ""), nil
	case engine.ProviderGemini:
		return NewGeminiMailbox(ctx, apiKey)
	default:
		return nil, fmt.Errorf("mailbox: unknown provider %q for engine %q", e.Provider, e.Name)
	}
}
