// Team definitions: the roles that connect to a Coral session together.
//
// Information Hiding:
// - YAML layout and defaults hidden
// - Role validation hidden

package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_team.yaml
var defaultTeamYAML []byte

// Team is a set of roles plus the shared prompt sections every role gets.
type Team struct {
	// Guide explains collaboration through Coral threads. It may contain
	// <resource> references and {{.CoralResource}}.
	Guide string `yaml:"guide"`
	// TaskContext and AnswerTaskContext are text/template sources rendered
	// with the task instruction. Roles with Answer set get the latter.
	TaskContext       string `yaml:"task_context"`
	AnswerTaskContext string `yaml:"answer_task_context"`
	// LoopPrompt is sent on every loop iteration after the first.
	LoopPrompt string `yaml:"loop_prompt"`
	Roles      []Role `yaml:"roles"`
}

// Role describes one agent of the team.
type Role struct {
	ID            string            `yaml:"id"`
	Description   string            `yaml:"description"`
	Prompt        string            `yaml:"prompt"`
	InitialPrompt string            `yaml:"initial_prompt"`
	Tools         []string          `yaml:"tools"`
	Answer        bool              `yaml:"answer"`
	Provider      string            `yaml:"provider"`
	Model         string            `yaml:"model"`
	MaxIterations int               `yaml:"max_iterations"`
	Sampling      *SamplingOverride `yaml:"sampling"`
}

// SamplingOverride replaces individual baseline sampling knobs.
type SamplingOverride struct {
	Temperature      *float64 `yaml:"temperature"`
	FrequencyPenalty *float64 `yaml:"frequency_penalty"`
	TopP             *float64 `yaml:"top_p"`
}

// Apply returns base with the set knobs replaced.
func (o *SamplingOverride) Apply(base SamplingConfig) SamplingConfig {
	if o == nil {
		return base
	}
	if o.Temperature != nil {
		base.Temperature = *o.Temperature
	}
	if o.FrequencyPenalty != nil {
		base.FrequencyPenalty = *o.FrequencyPenalty
	}
	if o.TopP != nil {
		base.TopP = *o.TopP
	}
	return base
}

// DefaultTeam returns the built-in six-role team.
func DefaultTeam() Team {
	team, err := decodeTeam(defaultTeamYAML)
	if err != nil {
		panic(fmt.Sprintf("config: built-in team: %v", err))
	}
	return team
}

// LoadTeam reads a team definition. Shared sections missing from the file
// are taken from the built-in team.
func LoadTeam(path string) (Team, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Team{}, fmt.Errorf("failed to read team file: %w", err)
	}
	team, err := ParseTeam(data)
	if err != nil {
		return Team{}, fmt.Errorf("invalid team file %s: %w", path, err)
	}
	return team, nil
}

// ParseTeam decodes and validates a YAML team definition. Shared sections
// left empty are taken from the built-in team.
func ParseTeam(data []byte) (Team, error) {
	var team Team
	if err := yaml.Unmarshal(data, &team); err != nil {
		return Team{}, fmt.Errorf("failed to parse team: %w", err)
	}
	team.fillShared(DefaultTeam())
	if err := team.Validate(); err != nil {
		return Team{}, err
	}
	return team, nil
}

func decodeTeam(data []byte) (Team, error) {
	var team Team
	if err := yaml.Unmarshal(data, &team); err != nil {
		return Team{}, err
	}
	return team, team.Validate()
}

func (t *Team) fillShared(d Team) {
	if t.Guide == "" {
		t.Guide = d.Guide
	}
	if t.TaskContext == "" {
		t.TaskContext = d.TaskContext
	}
	if t.AnswerTaskContext == "" {
		t.AnswerTaskContext = d.AnswerTaskContext
	}
	if t.LoopPrompt == "" {
		t.LoopPrompt = d.LoopPrompt
	}
}

// Validate checks that roles are named uniquely and prompted.
func (t Team) Validate() error {
	if len(t.Roles) == 0 {
		return fmt.Errorf("team has no roles")
	}
	seen := make(map[string]bool, len(t.Roles))
	for i, r := range t.Roles {
		if r.ID == "" {
			return fmt.Errorf("role %d: id is required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("role '%s' defined twice", r.ID)
		}
		seen[r.ID] = true
		if r.Prompt == "" {
			return fmt.Errorf("role '%s': prompt is required", r.ID)
		}
		if r.MaxIterations < 0 {
			return fmt.Errorf("role '%s': max_iterations must not be negative", r.ID)
		}
	}
	return nil
}

// Role finds a role by id.
func (t Team) Role(id string) (Role, bool) {
	for _, r := range t.Roles {
		if r.ID == id {
			return r, true
		}
	}
	return Role{}, false
}

// Select returns the roles with the given ids in the given order. No ids
// selects every role.
func (t Team) Select(ids ...string) ([]Role, error) {
	if len(ids) == 0 {
		return t.Roles, nil
	}
	out := make([]Role, 0, len(ids))
	for _, id := range ids {
		r, ok := t.Role(id)
		if !ok {
			return nil, fmt.Errorf("unknown role '%s'", id)
		}
		out = append(out, r)
	}
	return out, nil
}
