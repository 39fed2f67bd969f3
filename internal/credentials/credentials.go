// Package credentials implements the single credentials lookup spec.md
// §6 requires: the core reads provider API keys only through this one
// function, and never writes them to disk. Grounded on the teacher's
// provider constructors (internal/agent/providers/anthropic.go,
// google.go), whose doc comments show the same
// os.Getenv("ANTHROPIC_API_KEY")/os.Getenv("GOOGLE_API_KEY") idiom; kept
// on stdlib os.Getenv since a three-branch environment lookup has no
// third-party library in the corpus worth reaching for.
package credentials

import (
	"fmt"
	"os"

	"github.com/loomkit/loom/internal/engine"
)

// envVar maps a provider tag to the environment variable spec.md §6
// names for it.
func envVar(p engine.Provider) (string, error) {
	switch p {
	case engine.ProviderAnthropic:
		return "ANTHROPIC_API_KEY", nil
	case engine.ProviderOpenAI:
		return "OPENAI_API_KEY", nil
	case engine.ProviderGemini:
		return "GEMINI_API_KEY", nil
	default:
		return "", fmt.Errorf("credentials: unknown provider %q", p)
	}
}

// Lookup returns the API key for provider p from the process
// environment, or an error if the provider is unrecognized or the
// corresponding variable is unset or empty.
func Lookup(p engine.Provider) (string, error) {
	name, err := envVar(p)
	if err != nil {
		return "", err
	}
	key := os.Getenv(name)
	if key == "" {
		return "", fmt.Errorf("credentials: %s is not set", name)
	}
	return key, nil
}
