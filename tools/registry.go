// Package tools provides tool management and registration.
//
// Information Hiding:
// - Tool storage and lookup implementation hidden
// - Internal/external classification hidden
// - Registration and discovery mechanisms abstracted

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/richinex/anemoi/llm"
)

// Kind classifies how a tool call is handled.
type Kind int

const (
	// KindInternal tools are executed in-process by the agent.
	KindInternal Kind = iota
	// KindExternal tools are handed back to the caller uninvoked.
	KindExternal
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// ErrDuplicateTool is returned when a name is registered twice.
var ErrDuplicateTool = errors.New("tool already registered")

type entry struct {
	tool Tool
	kind Kind
}

// Registry manages available tools. Each name belongs to exactly one kind.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// Register adds an internal tool to the registry.
// Returns error if a tool with the same name already exists.
func (r *Registry) Register(tool Tool) error {
	return r.register(tool, KindInternal)
}

// RegisterExternal adds a tool whose calls are returned to the caller.
func (r *Registry) RegisterExternal(tool Tool) error {
	return r.register(tool, KindExternal)
}

func (r *Registry) register(tool Tool, kind Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Metadata().Name
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: '%s'", ErrDuplicateTool, name)
	}
	r.entries[name] = entry{tool: tool, kind: kind}
	r.order = append(r.order, name)
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[name]
	return e.tool, exists
}

// Kind reports the kind of a registered tool.
func (r *Registry) Kind(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[name]
	return e.kind, exists
}

// Has checks if a tool exists in the registry.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.entries[name]
	return exists
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Names returns all registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns metadata for all registered tools in registration order.
func (r *Registry) List() []ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metadata := make([]ToolMetadata, 0, len(r.order))
	for _, name := range r.order {
		metadata = append(metadata, r.entries[name].tool.Metadata())
	}
	return metadata
}

// Definitions returns the definitions of every tool, internal and external,
// in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	list := r.List()
	defs := make([]llm.ToolDefinition, len(list))
	for i, meta := range list {
		defs[i] = meta.Definition()
	}
	return defs
}

// Description returns a formatted description of all tools for LLM prompts.
func (r *Registry) Description() string {
	var descriptions []string
	for _, meta := range r.List() {
		var params []string
		for _, p := range meta.Parameters {
			required := "optional"
			if p.Required {
				required = "required"
			}
			params = append(params, fmt.Sprintf("  - %s (%s): %s [%s]",
				p.Name, p.ParamType, p.Description, required))
		}

		paramStr := strings.Join(params, "\n")
		descriptions = append(descriptions, fmt.Sprintf(
			"Tool: %s\nDescription: %s\nParameters:\n%s",
			meta.Name, meta.Description, paramStr))
	}

	return strings.Join(descriptions, "\n\n")
}

// ExternalTool is a tool the model may call but the agent never executes.
// The caller receives the pending request and supplies the result itself.
type ExternalTool struct {
	BaseTool
	meta ToolMetadata
}

// NewExternalTool declares an external tool from its definition.
func NewExternalTool(name, description string, schema map[string]interface{}) *ExternalTool {
	return &ExternalTool{meta: ToolMetadata{
		Name:        name,
		Description: description,
		Schema:      schema,
	}}
}

// Metadata returns the tool metadata.
func (t *ExternalTool) Metadata() ToolMetadata {
	return t.meta
}

// Execute always fails; external calls are returned to the caller instead.
func (t *ExternalTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	return FailureResultf("tool '%s' is external and cannot be executed by the agent", t.meta.Name), nil
}

// Default timeout and file size constants for tools.
const (
	DefaultToolTimeout = 30          // seconds
	DefaultMaxFileSize = 1024 * 1024 // 1MB
)

// Verify ExternalTool implements Tool
var _ Tool = (*ExternalTool)(nil)
