package botfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/loomkit/loom/internal/convo"
	"github.com/loomkit/loom/internal/engine"
	"github.com/loomkit/loom/internal/loomerr"
	"github.com/loomkit/loom/internal/mailbox"
	"github.com/loomkit/loom/internal/signals"
	"github.com/loomkit/loom/internal/stepmachine"
	"github.com/loomkit/loom/internal/toolkit"
)

// Bot is the full runtime object spec.md's Overview describes: a named
// conversation over one engine, its tool registry, and the step
// machine that drives turns over its tree. This is what Save persists
// and Load/DeepCopy reconstruct.
type Bot struct {
	Name            string
	EngineName      string
	MaxTokens       int
	Temperature     float64
	Role            string
	RoleDescription string
	SystemMessage   string
	Autosave        bool
	BotClass        string

	Tree     *convo.Tree
	Labels   map[string]*convo.Node
	Registry *toolkit.Registry
	Machine  *stepmachine.Machine

	// LastSavePath is empty until the first Save or Load, after which
	// autosave overwrites it rather than minting a new timestamped name
	// (§6: "Autosave uses <bot_name>@<utc_timestamp>.bot when no load
	// path is known, else overwrites the last save path").
	LastSavePath string
}

// Config is everything New needs to build a fresh Bot bound to a live
// Mailbox adapter.
type Config struct {
	Name            string
	EngineName      string
	MaxTokens       int
	Temperature     float64
	Role            string
	RoleDescription string
	SystemMessage   string
	Autosave        bool
	Registry        *toolkit.Registry
	RetryPolicy     mailbox.RetryPolicy
	Dispatcher      *signals.Dispatcher
	APIKey          string
}

// New constructs a Bot whose engine is resolved from the default
// catalog and whose Mailbox adapter is built from cfg.APIKey (callers
// typically obtain this from internal/credentials.Lookup — New never
// reads the environment itself).
func New(ctx context.Context, cfg Config) (*Bot, error) {
	e, ok := engine.Get(cfg.EngineName)
	if !ok {
		return nil, fmt.Errorf("botfile: unknown engine %q", cfg.EngineName)
	}
	mb, err := mailbox.New(ctx, e, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("botfile: building mailbox: %w", err)
	}

	registry := cfg.Registry
	if registry == nil {
		registry = toolkit.NewRegistry()
	}

	machine := stepmachine.New(stepmachine.Config{
		Mailbox:     mb,
		Registry:    registry,
		System:      cfg.SystemMessage,
		ModelID:     e.ModelID,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		RetryPolicy: cfg.RetryPolicy,
		Dispatcher:  cfg.Dispatcher,
	})

	return &Bot{
		Name:            cfg.Name,
		EngineName:      cfg.EngineName,
		MaxTokens:       cfg.MaxTokens,
		Temperature:     cfg.Temperature,
		Role:            cfg.Role,
		RoleDescription: cfg.RoleDescription,
		SystemMessage:   cfg.SystemMessage,
		Autosave:        cfg.Autosave,
		BotClass:        DefaultBotClass,
		Tree:            convo.NewTree(),
		Labels:          make(map[string]*convo.Node),
		Registry:        registry,
		Machine:         machine,
	}, nil
}

// Respond implements spec.md §4.7's outer respond(): drive one turn via
// the step machine, then autosave if configured. The autosave error (if
// any) is returned alongside a successful response rather than
// discarded, since a caller relying on autosave needs to know it
// silently stopped working.
func (b *Bot) Respond(ctx context.Context, prompt string) (string, *convo.Node, error) {
	text, node, err := b.Machine.Respond(ctx, b.Tree, prompt)
	if err != nil {
		return "", nil, err
	}
	if b.Autosave {
		if _, saveErr := b.SaveAutosave(); saveErr != nil {
			return text, node, fmt.Errorf("turn succeeded but autosave failed: %w", saveErr)
		}
	}
	return text, node, nil
}

// ApplyConfig updates b's system message, max tokens, and temperature
// in place and pushes the same values into b.Machine, so an already
// running bot picks up an edited loom.yaml without rebuilding its
// Mailbox or losing its conversation tree. Used by cmd/loom's
// --watch-config reload hook; a one-shot `loom run` never calls this.
func (b *Bot) ApplyConfig(systemMessage string, maxTokens int, temperature float64) {
	b.SystemMessage = systemMessage
	b.MaxTokens = maxTokens
	b.Temperature = temperature
	b.Machine.SetParameters(systemMessage, maxTokens, temperature)
}

// ToDocument renders b to its strict-JSON on-disk shape. Fails loudly
// (PersistSchemaViolation) if any node in b.Tree carries a non-JSON-safe
// attribute, per §4.8's disk-save discipline.
func (b *Bot) ToDocument() (*Document, error) {
	conversation, err := b.Tree.ToDict(b.Labels)
	if err != nil {
		return nil, err
	}

	modules := b.Registry.Modules()
	moduleDocs := make(map[string]ModuleDoc, len(modules))
	for id, mc := range modules {
		moduleDocs[id] = ModuleDoc{
			Name:     mc.LogicalName,
			Source:   mc.SourceCode,
			FilePath: mc.OriginPathOrVirtualID,
			CodeHash: mc.CodeHash,
		}
	}

	return &Document{
		Name:            b.Name,
		ModelEngine:     b.EngineName,
		MaxTokens:       b.MaxTokens,
		Temperature:     b.Temperature,
		Role:            b.Role,
		RoleDescription: b.RoleDescription,
		SystemMessage:   b.SystemMessage,
		Conversation:    conversation,
		ToolHandler: ToolHandlerDoc{
			Class:         DefaultToolHandlerClass,
			Tools:         b.Registry.Descriptors(),
			Requests:      b.Registry.Requests(),
			Results:       b.Registry.Results(),
			Modules:       moduleDocs,
			FunctionPaths: b.Registry.FunctionPaths(),
		},
		Autosave: b.Autosave,
		BotClass: DefaultBotClass,
	}, nil
}

// Save writes b to path as strict JSON, atomically (write to a sibling
// temp file, then rename), matching the teacher's
// cmd/nexus/handlers_channels.go writeFileAtomic idiom. On success,
// b.LastSavePath is updated so a later autosave overwrites this file.
func (b *Bot) Save(path string) error {
	doc, err := b.ToDocument()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return loomerr.Wrap(loomerr.KindPersistSchema, "encoding bot document", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("botfile: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("botfile: renaming %s to %s: %w", tmp, path, err)
	}
	b.LastSavePath = path
	return nil
}

// SaveAutosave derives a save path per §6 ("<bot_name>@<utc_timestamp>.bot
// when no load path is known, else overwrites the last save path") and
// saves there.
func (b *Bot) SaveAutosave() (string, error) {
	path := b.LastSavePath
	if path == "" {
		path = fmt.Sprintf("%s@%s.bot", b.Name, time.Now().UTC().Format("20060102T150405Z"))
	}
	if err := b.Save(path); err != nil {
		return "", err
	}
	return path, nil
}

// moduleSnapshotsFrom converts the document's module/function-path maps
// back into toolkit.ModuleSnapshot values, deriving each module's owned
// tool-name list from FunctionPaths (the inverse of the map Save wrote).
func moduleSnapshotsFrom(doc *Document) []toolkit.ModuleSnapshot {
	toolNames := make(map[string][]string, len(doc.ToolHandler.Modules))
	for name, moduleID := range doc.ToolHandler.FunctionPaths {
		toolNames[moduleID] = append(toolNames[moduleID], name)
	}

	snapshots := make([]toolkit.ModuleSnapshot, 0, len(doc.ToolHandler.Modules))
	for id, m := range doc.ToolHandler.Modules {
		snapshots = append(snapshots, toolkit.ModuleSnapshot{
			ID:                    id,
			LogicalName:           m.Name,
			SourceCode:            m.Source,
			OriginPathOrVirtualID: m.FilePath,
			CodeHash:              m.CodeHash,
			ToolNames:             toolNames[id],
		})
	}
	return snapshots
}

// PeekEngine reads just the model_engine field out of a bot file,
// without rehydrating tools or building a Mailbox. A caller needs this
// to resolve which provider's credentials to look up before it can
// call Load, which itself requires an API key up front.
func PeekEngine(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("botfile: reading %s: %w", path, err)
	}
	var peek struct {
		ModelEngine string `json:"model_engine"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return "", loomerr.Wrap(loomerr.KindPersistSchema, "decoding bot document", err)
	}
	return peek.ModelEngine, nil
}

// Load reconstructs a Bot from a bot file previously written by Save.
// The tool registry is rehydrated from its source snapshot (§4.5); the
// cursor is re-anchored per §4.8 (an anchor attribute wins, otherwise
// the deepest right-most leaf); the Mailbox adapter is rebuilt fresh
// from apiKey, since credentials are never persisted (§6).
func Load(ctx context.Context, path string, apiKey string, dispatcher *signals.Dispatcher) (*Bot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("botfile: reading %s: %w", path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, loomerr.Wrap(loomerr.KindPersistSchema, "decoding bot document", err)
	}

	tree, labels, err := convo.FromDict(doc.Conversation)
	if err != nil {
		return nil, err
	}
	tree.Cursor = convo.ReanchorCursor(tree.Root)

	registry := toolkit.NewRegistry()
	if err := registry.Rehydrate(moduleSnapshotsFrom(&doc), doc.ToolHandler.Tools); err != nil {
		return nil, err
	}

	e, ok := engine.Get(doc.ModelEngine)
	if !ok {
		return nil, fmt.Errorf("botfile: unknown engine %q in %s", doc.ModelEngine, path)
	}
	mb, err := mailbox.New(ctx, e, apiKey)
	if err != nil {
		return nil, fmt.Errorf("botfile: building mailbox: %w", err)
	}

	machine := stepmachine.New(stepmachine.Config{
		Mailbox:     mb,
		Registry:    registry,
		System:      doc.SystemMessage,
		ModelID:     e.ModelID,
		MaxTokens:   doc.MaxTokens,
		Temperature: doc.Temperature,
		Dispatcher:  dispatcher,
	})

	return &Bot{
		Name:            doc.Name,
		EngineName:      doc.ModelEngine,
		MaxTokens:       doc.MaxTokens,
		Temperature:     doc.Temperature,
		Role:            doc.Role,
		RoleDescription: doc.RoleDescription,
		SystemMessage:   doc.SystemMessage,
		Autosave:        doc.Autosave,
		BotClass:        doc.BotClass,
		Tree:            tree,
		Labels:          labels,
		Registry:        registry,
		Machine:         machine,
		LastSavePath:    path,
	}, nil
}

// DeepCopy returns a structurally independent copy of b for branch
// isolation (§4.8, §4.9): the tree is cloned node-by-node (never
// through JSON, so non-JSON-safe attributes and any wrapped callables
// survive intact), and the registry clone shares tool bindings but not
// per-turn scratch (toolkit.Registry.CloneForBranch). The copy gets its
// own Machine instance (a fresh busy-flag) sharing the same Mailbox, so
// a branch's turn cannot collide with the original's concurrency guard.
func (b *Bot) DeepCopy() *Bot {
	tree, labels := b.Tree.DeepCopy(b.Labels)
	registry := b.Registry.CloneForBranch()

	clone := *b
	clone.Tree = tree
	clone.Labels = labels
	clone.Registry = registry
	clone.Machine = stepmachine.New(stepmachine.Config{
		Mailbox:     b.Machine.Mailbox(),
		Registry:    registry,
		System:      b.SystemMessage,
		ModelID:     b.Machine.ModelID(),
		MaxTokens:   b.MaxTokens,
		Temperature: b.Temperature,
		RetryPolicy: b.Machine.RetryPolicy(),
		Dispatcher:  b.Machine.Dispatcher(),
	})
	return &clone
}
