package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultTeam(t *testing.T) {
	team := DefaultTeam()

	want := []string{
		"planning_agent", "web_agent", "document_processing_agent",
		"reasoning_coding_agent", "critique_agent", "answer_finding_agent",
	}
	if len(team.Roles) != len(want) {
		t.Fatalf("expected %d roles, got %d", len(want), len(team.Roles))
	}
	for i, id := range want {
		if team.Roles[i].ID != id {
			t.Errorf("role %d: expected %s, got %s", i, id, team.Roles[i].ID)
		}
	}

	answerer, ok := team.Role("answer_finding_agent")
	if !ok || !answerer.Answer {
		t.Error("answer_finding_agent should carry the answer toolkit")
	}
	if !strings.Contains(team.Guide, "<resource>{{.CoralResource}}</resource>") {
		t.Error("guide should reference the coral session resource")
	}
	if !strings.Contains(team.TaskContext, "{{.Instruction}}") {
		t.Error("task context should include the instruction")
	}
	if team.LoopPrompt == "" {
		t.Error("expected a loop prompt")
	}
}

func TestParseTeamFillsShared(t *testing.T) {
	team, err := ParseTeam([]byte(`
roles:
  - id: solo
    prompt: You work alone.
    tools: [run_code]
    provider: anthropic
    sampling:
      temperature: 0.5
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if team.Guide == "" || team.LoopPrompt == "" || team.AnswerTaskContext == "" {
		t.Error("expected shared sections from the built-in team")
	}

	role := team.Roles[0]
	if role.Provider != "anthropic" || len(role.Tools) != 1 {
		t.Errorf("unexpected role: %+v", role)
	}
	got := role.Sampling.Apply(SamplingConfig{Temperature: 0, FrequencyPenalty: 0.1, TopP: 0.99})
	if got != (SamplingConfig{Temperature: 0.5, FrequencyPenalty: 0.1, TopP: 0.99}) {
		t.Errorf("unexpected sampling: %+v", got)
	}

	var none *SamplingOverride
	if base := (SamplingConfig{TopP: 0.9}); none.Apply(base) != base {
		t.Error("nil override should keep the baseline")
	}
}

func TestParseTeamInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no roles", "roles: []"},
		{"missing id", "roles:\n  - prompt: p"},
		{"missing prompt", "roles:\n  - id: a"},
		{"duplicate", "roles:\n  - {id: a, prompt: p}\n  - {id: a, prompt: q}"},
		{"negative iterations", "roles:\n  - {id: a, prompt: p, max_iterations: -1}"},
		{"malformed", "roles: [unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTeam([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadTeamAndSelect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "team.yaml")
	content := "roles:\n  - {id: a, prompt: p}\n  - {id: b, prompt: q}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	team, err := LoadTeam(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	roles, err := team.Select("b")
	if err != nil || len(roles) != 1 || roles[0].ID != "b" {
		t.Errorf("Select(b) = %v, %v", roles, err)
	}
	if all, _ := team.Select(); len(all) != 2 {
		t.Errorf("Select() returned %d roles", len(all))
	}
	if _, err := team.Select("zzz"); err == nil {
		t.Error("expected error for unknown role")
	}

	if _, err := LoadTeam(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
