// Agent builder for fluent configuration.
//
// Information Hiding:
// - Builder state management hidden
// - Default value application hidden

package agent

import (
	"fmt"

	"github.com/richinex/anemoi/llm"
	"github.com/richinex/anemoi/tools"
)

// Builder provides fluent configuration for creating agents.
// Usage: agent.NewBuilder("name") - no stutter.
type Builder struct {
	config Config
}

// NewBuilder creates a new agent builder with the given name.
func NewBuilder(name string) *Builder {
	cfg := DefaultConfig()
	cfg.Name = name
	cfg.Description = ""
	cfg.SystemPrompt = ""
	return &Builder{config: cfg}
}

// Description sets the agent's description.
func (b *Builder) Description(description string) *Builder {
	b.config.Description = description
	return b
}

// SystemPrompt sets the agent's system prompt template.
func (b *Builder) SystemPrompt(prompt string) *Builder {
	b.config.SystemPrompt = prompt
	return b
}

// Tool adds an internal tool to the agent.
func (b *Builder) Tool(tool tools.Tool) *Builder {
	b.config.Tools = append(b.config.Tools, tool)
	return b
}

// Tools adds multiple internal tools at once.
func (b *Builder) Tools(toolList []tools.Tool) *Builder {
	b.config.Tools = append(b.config.Tools, toolList...)
	return b
}

// ExternalTool adds a tool whose calls are returned to the caller.
func (b *Builder) ExternalTool(tool tools.Tool) *Builder {
	b.config.ExternalTools = append(b.config.ExternalTools, tool)
	return b
}

// Sampling sets the baseline sampling.
func (b *Builder) Sampling(s llm.Sampling) *Builder {
	b.config.Sampling = s
	return b
}

// ResponseFormat sets the structured output format.
func (b *Builder) ResponseFormat(format *llm.ResponseFormat) *Builder {
	b.config.ResponseFormat = format
	return b
}

// MaxIterations sets the tool dispatch budget per turn.
func (b *Builder) MaxIterations(n int) *Builder {
	b.config.MaxIterations = n
	return b
}

// ContextLimits sets the message window and token limit.
func (b *Builder) ContextLimits(window, tokenLimit int) *Builder {
	b.config.Window = window
	b.config.TokenLimit = tokenLimit
	return b
}

// Stabilizer sets the retry budget and duplicate threshold.
func (b *Builder) Stabilizer(attempts, threshold int) *Builder {
	b.config.Attempts = attempts
	b.config.DuplicateThreshold = threshold
	return b
}

// HistoryPolicy sets when the response history is cleared.
func (b *Builder) HistoryPolicy(p HistoryPolicy) *Builder {
	b.config.HistoryPolicy = p
	return b
}

// ToolConcurrency bounds parallel internal tool calls.
func (b *Builder) ToolConcurrency(n int) *Builder {
	b.config.ToolConcurrency = n
	return b
}

// Build creates the agent configuration.
func (b *Builder) Build() Config {
	cfg := b.config
	if cfg.Description == "" {
		cfg.Description = fmt.Sprintf("Agent: %s", cfg.Name)
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = fmt.Sprintf(
			"You are an agent named %s. Use available tools to complete tasks.",
			cfg.Name,
		)
	}
	return cfg
}

// Name returns the builder's agent name.
func (b *Builder) Name() string {
	return b.config.Name
}

// ToolCount returns the number of tools registered.
func (b *Builder) ToolCount() int {
	return len(b.config.Tools) + len(b.config.ExternalTools)
}
