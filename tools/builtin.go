package tools

import (
	"fmt"
	"sort"
)

// builtins constructs the role tools that ship with the binary.
var builtins = map[string]func(cfg ToolConfig) Tool{
	"fetch_url": func(cfg ToolConfig) Tool {
		return NewFetchURLTool(cfg.Timeout())
	},
	"read_document": func(cfg ToolConfig) Tool {
		return NewReadDocumentTool(DefaultMaxFileSize)
	},
	"run_code": func(cfg ToolConfig) Tool {
		return NewRunCodeTool(cfg.Timeout()).WithInheritEnv(!cfg.Sandboxed())
	},
	"find_files": func(cfg ToolConfig) Tool {
		return NewFindFilesTool(0)
	},
	"search_documents": func(cfg ToolConfig) Tool {
		return NewSearchDocumentsTool(cfg.Timeout())
	},
}

// Builtin returns a fresh instance of a built-in tool by name.
func Builtin(name string, cfg ToolConfig) (Tool, error) {
	ctor, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("unknown built-in tool '%s' (available: %v)", name, BuiltinNames())
	}
	return ctor(cfg), nil
}

// BuiltinNames lists the built-in tool names in sorted order.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
