// Package engine provides the catalog of LLM engines the runtime core
// knows how to drive: a named, immutable enum value carrying the wire
// model id, the provider tag that selects a Mailbox adapter, and the
// cost-per-token pair used for usage accounting.
package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Provider identifies which Mailbox adapter drives an Engine.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
)

// Engine is an immutable named value identifying a specific model on a
// specific provider, along with the pricing used for cost(...).
type Engine struct {
	Name        string
	Provider    Provider
	ModelID     string
	InputPrice  float64 // USD per million input tokens
	OutputPrice float64 // USD per million output tokens
}

// Catalog is a mutex-guarded registry of Engines, keyed by Name and by
// ModelID for reverse lookup. Adding a new model requires no code change
// elsewhere: call Register with the wire id, provider tag, and prices.
type Catalog struct {
	mu      sync.RWMutex
	byName  map[string]Engine
	byModel map[string]string // model id -> name
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		byName:  make(map[string]Engine),
		byModel: make(map[string]string),
	}
}

// Register adds or replaces an Engine in the catalog.
func (c *Catalog) Register(e Engine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName[e.Name] = e
	c.byModel[e.ModelID] = e.Name
}

// Get returns the Engine registered under name.
func (c *Catalog) Get(name string) (Engine, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byName[name]
	return e, ok
}

// Lookup reverse-looks-up an Engine by its wire model id.
func (c *Catalog) Lookup(modelID string) (Engine, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.byModel[modelID]
	if !ok {
		return Engine{}, false
	}
	return c.byName[name], true
}

// Provider returns the provider tag used to select an adapter for e.
func (c *Catalog) Provider(e Engine) Provider {
	return e.Provider
}

// Cost computes the deterministic USD cost of a completion given token
// counts, per §4.1 of the spec: cost(engine, input_tokens, output_tokens).
func (c *Catalog) Cost(e Engine, inputTokens, outputTokens int) float64 {
	in := float64(inputTokens) / 1_000_000 * e.InputPrice
	out := float64(outputTokens) / 1_000_000 * e.OutputPrice
	return in + out
}

// List returns every registered Engine, stable-ordered by Name.
func (c *Catalog) List() []Engine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Engine, 0, len(c.byName))
	for _, e := range c.byName {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultCatalog is the process-wide catalog pre-populated with the
// models the bundled Mailbox adapters know how to drive. Callers that
// need a private catalog (tests, multi-tenant hosts) should construct
// their own with NewCatalog and Register.
var DefaultCatalog = NewCatalog()

func init() {
	registerBuiltins(DefaultCatalog)
}

func registerBuiltins(c *Catalog) {
	c.Register(Engine{Name: "claude-opus-4", Provider: ProviderAnthropic, ModelID: "claude-opus-4-20250514", InputPrice: 15.00, OutputPrice: 75.00})
	c.Register(Engine{Name: "claude-sonnet-4", Provider: ProviderAnthropic, ModelID: "claude-sonnet-4-20250514", InputPrice: 3.00, OutputPrice: 15.00})
	c.Register(Engine{Name: "claude-haiku-3.5", Provider: ProviderAnthropic, ModelID: "claude-3-5-haiku-20241022", InputPrice: 0.80, OutputPrice: 4.00})
	c.Register(Engine{Name: "gpt-4o", Provider: ProviderOpenAI, ModelID: "gpt-4o", InputPrice: 2.50, OutputPrice: 10.00})
	c.Register(Engine{Name: "gpt-4o-mini", Provider: ProviderOpenAI, ModelID: "gpt-4o-mini", InputPrice: 0.15, OutputPrice: 0.60})
	c.Register(Engine{Name: "o3-mini", Provider: ProviderOpenAI, ModelID: "o3-mini", InputPrice: 1.10, OutputPrice: 4.40})
	c.Register(Engine{Name: "gemini-2.0-flash", Provider: ProviderGemini, ModelID: "gemini-2.0-flash", InputPrice: 0.10, OutputPrice: 0.40})
	c.Register(Engine{Name: "gemini-1.5-pro", Provider: ProviderGemini, ModelID: "gemini-1.5-pro", InputPrice: 1.25, OutputPrice: 5.00})
}

// Lookup is a convenience wrapper over DefaultCatalog.Lookup.
func Lookup(modelID string) (Engine, bool) { return DefaultCatalog.Lookup(modelID) }

// Get is a convenience wrapper over DefaultCatalog.Get.
func Get(name string) (Engine, bool) { return DefaultCatalog.Get(name) }

// MustGet panics if name is not registered; used by tests and examples
// that construct a Bot against a known-good engine name.
func MustGet(name string) Engine {
	e, ok := Get(name)
	if !ok {
		panic(fmt.Sprintf("engine: unknown engine %q", name))
	}
	return e
}
