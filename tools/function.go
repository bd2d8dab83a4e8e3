// Function tools: typed Go handlers whose argument schema is reflected from
// the argument struct.
//
// Information Hiding:
// - Schema reflection hidden
// - Argument decoding hidden

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// FunctionTool adapts a typed handler to the Tool interface.
type FunctionTool[T any] struct {
	BaseTool
	meta    ToolMetadata
	handler func(ctx context.Context, args T) (string, error)
}

// NewFunctionTool builds a tool from a handler. The argument schema is
// reflected from T using its json and jsonschema struct tags.
func NewFunctionTool[T any](name, description string, handler func(ctx context.Context, args T) (string, error)) *FunctionTool[T] {
	return &FunctionTool[T]{
		meta: ToolMetadata{
			Name:        name,
			Description: description,
			Schema:      ReflectSchema[T](),
		},
		handler: handler,
	}
}

// ReflectSchema returns the inline JSON schema for T. Unnamed types such as
// struct{} have no definition to expand and are reflected in place.
func ReflectSchema[T any]() map[string]interface{} {
	var zero T
	named := false
	if typ := reflect.TypeOf(zero); typ != nil {
		named = typ.Name() != ""
	}
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: named,
	}
	schema := r.Reflect(&zero)

	raw, err := json.Marshal(schema)
	if err != nil {
		return emptyObjectSchema()
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return emptyObjectSchema()
	}
	delete(out, "$schema")
	delete(out, "$id")
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if _, ok := out["properties"]; !ok && out["type"] == "object" {
		out["properties"] = map[string]interface{}{}
	}
	return out
}

func emptyObjectSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

// Metadata returns the tool metadata.
func (t *FunctionTool[T]) Metadata() ToolMetadata {
	return t.meta
}

// Execute decodes the arguments into T and calls the handler.
func (t *FunctionTool[T]) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var decoded T
	if len(args) > 0 {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return FailureResult(fmt.Errorf("validation failed: %w", err)), nil
		}
	}

	out, err := t.handler(ctx, decoded)
	if err != nil {
		return FailureResult(err), nil
	}
	return SuccessResult(out), nil
}
