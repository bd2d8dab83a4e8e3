// Agent configuration types.
//
// Information Hiding:
// - Configuration validation logic hidden
// - Default values hidden

package agent

import (
	"errors"

	"github.com/richinex/anemoi/llm"
	"github.com/richinex/anemoi/memory"
	"github.com/richinex/anemoi/tools"
)

// Runtime defaults.
const (
	DefaultMaxIterations   = 10
	DefaultToolConcurrency = 4
)

// Config holds agent configuration.
type Config struct {
	// Name is a unique identifier for the agent.
	Name string

	// Description explains what this agent does.
	Description string

	// SystemPrompt is the template resolved before every turn. It may contain
	// <resource>URL</resource> references.
	SystemPrompt string

	// Tools are executed by the agent.
	Tools []tools.Tool

	// ExternalTools are offered to the model but returned to the caller.
	ExternalTools []tools.Tool

	// Sampling is the baseline every model call starts from.
	Sampling llm.Sampling

	// ResponseFormat optionally constrains the model output.
	ResponseFormat *llm.ResponseFormat

	// MaxIterations bounds tool dispatch rounds per turn.
	MaxIterations int

	// Window and TokenLimit bound the context sent to the model.
	Window     int
	TokenLimit int

	// Attempts, DuplicateThreshold and Escalation drive the stabilizer.
	Attempts           int
	DuplicateThreshold int
	Escalation         Escalation

	// HistoryCapacity and HistoryPolicy govern the response history.
	HistoryCapacity int
	HistoryPolicy   HistoryPolicy

	// ToolConcurrency bounds parallel internal tool calls.
	ToolConcurrency int
}

// DefaultConfig returns a basic agent configuration.
func DefaultConfig() Config {
	return Config{
		Name:               "agent",
		Description:        "A general-purpose agent",
		SystemPrompt:       "You are a helpful assistant.",
		Sampling:           llm.DefaultSampling(),
		MaxIterations:      DefaultMaxIterations,
		Window:             memory.DefaultWindow,
		TokenLimit:         memory.DefaultTokenLimit,
		Attempts:           DefaultAttempts,
		DuplicateThreshold: DefaultDuplicateThreshold,
		Escalation:         DefaultEscalation(),
		HistoryCapacity:    DefaultHistoryCapacity,
		ToolConcurrency:    DefaultToolConcurrency,
	}
}

// withDefaults fills zero-valued limits. DuplicateThreshold zero is kept
// only when Attempts is also set explicitly.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.TokenLimit <= 0 {
		c.TokenLimit = d.TokenLimit
	}
	if c.Attempts <= 0 {
		c.Attempts = d.Attempts
		if c.DuplicateThreshold == 0 {
			c.DuplicateThreshold = d.DuplicateThreshold
		}
	}
	if c.Escalation == (Escalation{}) {
		c.Escalation = d.Escalation
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = d.HistoryCapacity
	}
	if c.ToolConcurrency <= 0 {
		c.ToolConcurrency = d.ToolConcurrency
	}
	return c
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.SystemPrompt == "" {
		return errors.New("agent config: system prompt is required")
	}
	if c.DuplicateThreshold < 0 {
		return errors.New("agent config: duplicate threshold must not be negative")
	}
	return nil
}

// HasTools returns true if the agent has tools configured.
func (c *Config) HasTools() bool {
	return len(c.Tools) > 0 || len(c.ExternalTools) > 0
}
