package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomkit/loom/internal/engine"
)

func TestLookupReadsTheMappedEnvVar(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	key, err := Lookup(engine.ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", key)
}

func TestLookupFailsWhenUnset(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	_, err := Lookup(engine.ProviderGemini)
	assert.Error(t, err)
}

func TestLookupFailsForUnknownProvider(t *testing.T) {
	_, err := Lookup(engine.Provider("bogus"))
	assert.Error(t, err)
}
