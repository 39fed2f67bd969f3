package mailbox

import (
	"encoding/json"

	"github.com/loomkit/loom/internal/toolkit"
)

// paramSpecFallbackSchema builds a minimal JSON schema object from a
// descriptor's flat ParamSpec list for tools registered without a
// generated schema (toolkit.GenerateSchema was not used). Every adapter
// falls back to this when Descriptor.Schema is empty, so a hand-built
// toolkit.Definition without a Schema still produces a valid wire tool.
func paramSpecFallbackSchema(params []toolkit.ParamSpec) json.RawMessage {
	properties := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		properties[p.Name] = map[string]any{
			"type":        typ,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}
