// Remote tools: MCP server tools usable as internal agent tools.
//
// Information Hiding:
// - Schema conversion hidden
// - Content flattening hidden
// - Session sharing between tools hidden

package coral

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/richinex/anemoi/tools"
)

// remoteTool forwards calls to one tool of a shared session.
type remoteTool struct {
	tools.BaseTool
	srv  *server
	meta tools.ToolMetadata
}

func newRemoteTool(srv *server, info *mcpsdk.Tool) *remoteTool {
	schema := schemaMap(info.InputSchema)
	return &remoteTool{
		srv: srv,
		meta: tools.ToolMetadata{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  parseParameters(schema),
			Schema:      schema,
		},
	}
}

// Metadata returns the tool metadata extracted from the MCP schema.
func (t *remoteTool) Metadata() tools.ToolMetadata {
	return t.meta
}

// Execute calls the remote tool. Errors reported by the tool itself become
// failed results; transport errors are returned.
func (t *remoteTool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return tools.FailureResult(fmt.Errorf("validation failed: %w", err)), nil
		}
	}
	if arguments == nil {
		arguments = map[string]any{}
	}

	result, err := t.srv.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.meta.Name,
		Arguments: arguments,
	})
	if err != nil {
		return tools.ToolResult{}, fmt.Errorf("call tool '%s' on %s: %w", t.meta.Name, t.srv.key, err)
	}

	text := flatten(result.Content)
	if result.IsError {
		return tools.FailureResultf("%s", text), nil
	}
	return formatResult(text), nil
}

// flatten joins the text parts of a tool result.
func flatten(content []mcpsdk.Content) string {
	var parts []string
	for _, c := range content {
		switch v := c.(type) {
		case *mcpsdk.TextContent:
			parts = append(parts, v.Text)
		default:
			raw, err := json.Marshal(v)
			if err == nil {
				parts = append(parts, string(raw))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// formatResult pretty-prints JSON output and passes text through.
func formatResult(text string) tools.ToolResult {
	var v interface{}
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return tools.SuccessResult(text)
	}
	if _, isObject := v.(map[string]interface{}); !isObject {
		return tools.SuccessResult(text)
	}
	// If unmarshal succeeded, marshal should never fail
	pretty, _ := json.MarshalIndent(v, "", "  ")
	return tools.SuccessResult(string(pretty))
}

// schemaMap converts an MCP input schema to a generic JSON schema map.
func schemaMap(schema any) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}

// parseParameters extracts tool parameters from the JSON schema.
// Returns parameters in sorted order for deterministic output.
func parseParameters(schema map[string]interface{}) []tools.ToolParameter {
	props, _ := schema["properties"].(map[string]interface{})

	requiredSet := make(map[string]bool)
	if req, ok := schema["required"].([]interface{}); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				requiredSet[name] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]tools.ToolParameter, 0, len(names))
	for _, name := range names {
		prop, _ := props[name].(map[string]interface{})
		paramType, _ := prop["type"].(string)
		if paramType == "" {
			paramType = "string"
		}
		description, _ := prop["description"].(string)

		params = append(params, tools.ToolParameter{
			Name:        name,
			Description: description,
			ParamType:   paramType,
			Required:    requiredSet[name],
		})
	}

	return params
}

// Verify remoteTool implements tools.Tool
var _ tools.Tool = (*remoteTool)(nil)
