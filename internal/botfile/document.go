// Package botfile implements save/load and in-process deep-copy
// persistence for a bot (spec.md §4.8): a single portable JSON document
// containing the engine id, sampling params, name/role/system message,
// the complete conversation tree, and a tool registry snapshot, plus
// the two copy disciplines the spec requires to differ — strict-JSON
// disk save/load versus a richer same-runtime deep copy.
//
// Grounded on the teacher's internal/config/loader.go for the
// read-file/unmarshal/validate shape of Load, and on
// cmd/nexus/handlers_channels.go's write-temp-then-rename idiom for
// atomic disk writes.
package botfile

import (
	"encoding/json"

	"github.com/loomkit/loom/internal/convo"
	"github.com/loomkit/loom/internal/toolkit"
)

// DefaultBotClass and DefaultToolHandlerClass are the discriminator
// values this module writes; a bot file produced by a future revision
// with a different tool-handler implementation would carry a different
// tag here. Load does not currently branch on it; it is read back only
// for round-trip fidelity.
const (
	DefaultBotClass         = "loom.Bot"
	DefaultToolHandlerClass = "loom.ToolRegistry"
)

// ModuleDoc is the on-disk shape of one toolkit.ModuleContext (§6: bot
// file module objects carry name, source, file_path, code_hash, and an
// optional informational globals hint, ignored on load).
type ModuleDoc struct {
	Name     string          `json:"name"`
	Source   string          `json:"source"`
	FilePath string          `json:"file_path"`
	CodeHash string          `json:"code_hash"`
	Globals  json.RawMessage `json:"globals,omitempty"`
}

// ToolHandlerDoc is the on-disk shape of a toolkit.Registry (§6:
// `tool_handler` with `class`, `tools[]`, `requests[]`, `results[]`,
// `modules{}`, `function_paths{}`).
type ToolHandlerDoc struct {
	Class         string               `json:"class"`
	Tools         []toolkit.Descriptor `json:"tools"`
	Requests      []convo.ToolCall     `json:"requests"`
	Results       []convo.ToolResult   `json:"results"`
	Modules       map[string]ModuleDoc `json:"modules"`
	FunctionPaths map[string]string    `json:"function_paths"`
}

// Document is the full on-disk shape of a bot file (§6's top-level key
// list). Conversation is left as raw JSON rather than a typed field
// because internal/convo.Tree.ToDict/FromDict already own that
// structure's shape (root + labels); Document simply carries it
// alongside the rest of the bot's state.
type Document struct {
	Name            string          `json:"name"`
	ModelEngine     string          `json:"model_engine"`
	MaxTokens       int             `json:"max_tokens"`
	Temperature     float64         `json:"temperature"`
	Role            string          `json:"role"`
	RoleDescription string          `json:"role_description"`
	SystemMessage   string          `json:"system_message"`
	Conversation    json.RawMessage `json:"conversation"`
	ToolHandler     ToolHandlerDoc  `json:"tool_handler"`
	Autosave        bool            `json:"autosave"`
	BotClass        string          `json:"bot_class"`
}
