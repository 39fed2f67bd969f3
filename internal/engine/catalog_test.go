package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogRegisterAndGet(t *testing.T) {
	c := NewCatalog()
	c.Register(Engine{Name: "test-engine", Provider: ProviderAnthropic, ModelID: "test-model-1", InputPrice: 1, OutputPrice: 2})

	e, ok := c.Get("test-engine")
	require.True(t, ok)
	assert.Equal(t, ProviderAnthropic, c.Provider(e))
	assert.Equal(t, "test-model-1", e.ModelID)
}

func TestCatalogLookupByModelID(t *testing.T) {
	c := NewCatalog()
	c.Register(Engine{Name: "test-engine", Provider: ProviderOpenAI, ModelID: "gpt-test", InputPrice: 1, OutputPrice: 2})

	e, ok := c.Lookup("gpt-test")
	require.True(t, ok)
	assert.Equal(t, "test-engine", e.Name)

	_, ok = c.Lookup("does-not-exist")
	assert.False(t, ok)
}

func TestCatalogCostIsDeterministic(t *testing.T) {
	c := NewCatalog()
	e := Engine{Name: "priced", InputPrice: 3.00, OutputPrice: 15.00}
	c.Register(e)

	got := c.Cost(e, 1_000_000, 1_000_000)
	assert.Equal(t, 18.0, got)

	got2 := c.Cost(e, 500_000, 0)
	assert.Equal(t, 1.5, got2)
}

func TestAddingModelRequiresNoCodeChange(t *testing.T) {
	c := NewCatalog()
	before := len(c.List())
	c.Register(Engine{Name: "brand-new", Provider: ProviderGemini, ModelID: "new-model", InputPrice: 1, OutputPrice: 1})
	assert.Equal(t, before+1, len(c.List()))

	e, ok := c.Lookup("new-model")
	require.True(t, ok)
	assert.Equal(t, ProviderGemini, e.Provider)
}

func TestDefaultCatalogPrePopulated(t *testing.T) {
	e, ok := Get("claude-sonnet-4")
	require.True(t, ok)
	assert.Equal(t, ProviderAnthropic, e.Provider)

	_, ok = Lookup("gpt-4o")
	assert.True(t, ok)
}
