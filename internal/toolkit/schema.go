package toolkit

import (
	"bytes"
	"encoding/json"
	"fmt"

	invopop "github.com/invopop/jsonschema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// GenerateSchema derives a provider-neutral descriptor schema from a Go
// params struct via reflection (github.com/invopop/jsonschema), the
// idiomatic Go analogue of spec §4.4's "derived from signature +
// docstring": Go tool authors declare a params struct with `json` tags
// and `jsonschema:"description=..."` struct tags instead of relying on
// dynamic introspection of a function signature.
func GenerateSchema(paramsExample any) (json.RawMessage, []ParamSpec) {
	reflector := &invopop.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(paramsExample)

	var params []ParamSpec
	if schema.Properties != nil {
		required := make(map[string]bool, len(schema.Required))
		for _, name := range schema.Required {
			required[name] = true
		}
		for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
			name := pair.Key
			prop := pair.Value
			params = append(params, ParamSpec{
				Name:        name,
				Type:        prop.Type,
				Required:    required[name],
				Description: prop.Description,
			})
		}
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{}`), params
	}
	return raw, params
}

// ValidateArguments checks a tool call's JSON arguments against a
// descriptor's generated schema before execution, using
// github.com/santhosh-tekuri/jsonschema/v5. This is a supplemented
// feature (SPEC_FULL.md): spec.md does not require argument validation,
// but rejecting a malformed call before it reaches a tool's Go function
// turns a likely panic-by-type-assertion into a clean ToolExecFailure
// result.
func ValidateArguments(schema json.RawMessage, args json.RawMessage) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("decoding arguments: %w", err)
	}
	if err := compiled.Validate(v); err != nil {
		return fmt.Errorf("arguments do not match tool schema: %w", err)
	}
	return nil
}
