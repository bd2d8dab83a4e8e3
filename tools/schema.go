// Argument validation against a tool's JSON schema.
//
// Information Hiding:
// - Schema compilation and caching hidden
// - Decoding of raw arguments hidden

package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var schemaCache sync.Map

// compileSchema compiles a schema map, caching by its canonical encoding.
func compileSchema(name string, schema map[string]interface{}) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	key := string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString(name+".schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// ValidateArgs checks raw arguments against the tool's input schema.
// Empty arguments are treated as an empty object.
func ValidateArgs(meta ToolMetadata, args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("validation failed: arguments are not valid JSON: %w", err)
	}

	schema, err := compileSchema(meta.Name, meta.InputSchema())
	if err != nil {
		// An unusable schema is the tool's problem, not the caller's.
		return nil
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
