// Role and tool listings for CLI commands.
//
// Information Hiding:
// - Tool instantiation for listing hidden
// - Listing layout hidden

package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/richinex/anemoi/answer"
	"github.com/richinex/anemoi/config"
	"github.com/richinex/anemoi/tools"
)

// ListRoles prints the roles of a team with their tools.
func ListRoles(w io.Writer, t config.Team) {
	fmt.Fprintln(w, "Roles:")
	fmt.Fprintln(w)
	for _, r := range t.Roles {
		fmt.Fprintf(w, "  %s\n", r.ID)
		if r.Description != "" {
			fmt.Fprintf(w, "    %s\n", r.Description)
		}
		names := append([]string{}, r.Tools...)
		if r.Answer {
			names = append(names, answerToolNames()...)
		}
		if len(names) > 0 {
			fmt.Fprintf(w, "    tools: %s\n", strings.Join(names, ", "))
		}
		if r.Provider != "" || r.Model != "" {
			fmt.Fprintf(w, "    model: %s %s\n", r.Provider, r.Model)
		}
		fmt.Fprintln(w)
	}
}

// ListTools prints the built-in role tools and the answer toolkit. Coral
// tools are discovered from the server at connect time and are not listed.
func ListTools(w io.Writer, verbose bool) {
	registry := tools.NewRegistry()
	cfg := tools.DefaultToolConfig()
	for _, name := range tools.BuiltinNames() {
		tool, err := tools.Builtin(name, cfg)
		if err == nil {
			_ = registry.Register(tool)
		}
	}
	for _, tool := range answer.NewToolkit(answer.Config{}).Tools() {
		_ = registry.Register(tool)
	}

	fmt.Fprintln(w, "Available tools:")
	fmt.Fprintln(w)

	for _, meta := range registry.List() {
		fmt.Fprintf(w, "  %s\n", meta.Name)
		fmt.Fprintf(w, "    %s\n", meta.Description)

		if verbose {
			params := meta.Parameters
			if len(params) == 0 {
				params = schemaParameters(meta.InputSchema())
			}
			if len(params) > 0 {
				fmt.Fprintln(w, "    Parameters:")
			}
			for _, param := range params {
				req := ""
				if param.Required {
					req = "*"
				}
				fmt.Fprintf(w, "      %s%s: %s - %s\n", param.Name, req, param.ParamType, param.Description)
			}
		}
		fmt.Fprintln(w)
	}
}

func answerToolNames() []string {
	var names []string
	for _, tool := range answer.NewToolkit(answer.Config{}).Tools() {
		names = append(names, tool.Metadata().Name)
	}
	return names
}

// schemaParameters lists the top-level properties of a reflected schema.
func schemaParameters(schema map[string]interface{}) []tools.ToolParameter {
	props, _ := schema["properties"].(map[string]interface{})
	required := map[string]bool{}
	switch req := schema["required"].(type) {
	case []interface{}:
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	case []string:
		for _, s := range req {
			required[s] = true
		}
	}

	var params []tools.ToolParameter
	for _, name := range sortedKeys(props) {
		prop, _ := props[name].(map[string]interface{})
		typ, _ := prop["type"].(string)
		desc, _ := prop["description"].(string)
		params = append(params, tools.ToolParameter{Name: name, ParamType: typ, Description: desc, Required: required[name]})
	}
	return params
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func roleIDs(t config.Team) []string {
	ids := make([]string, 0, len(t.Roles))
	for _, r := range t.Roles {
		ids = append(ids, r.ID)
	}
	return ids
}
