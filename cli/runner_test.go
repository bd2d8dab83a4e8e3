package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/richinex/anemoi/agent"
	"github.com/richinex/anemoi/config"
	"github.com/richinex/anemoi/llm"
	"github.com/richinex/anemoi/storage"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		format, level string
		wantErr       bool
		wantJSON      bool
	}{
		{"text", "info", false, false},
		{"", "", false, false},
		{"json", "debug", false, true},
		{"JSON", "warn", false, true},
		{"xml", "info", true, false},
		{"text", "loud", true, false},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		logger, err := NewLogger(tt.format, tt.level, &buf)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewLogger(%q, %q) error = %v", tt.format, tt.level, err)
			continue
		}
		if err != nil {
			continue
		}
		logger.Error("boom", "agent", "web_agent")
		if got := json.Valid(bytes.TrimSpace(buf.Bytes())); got != tt.wantJSON {
			t.Errorf("NewLogger(%q): JSON output = %v, want %v: %s", tt.format, got, tt.wantJSON, buf.String())
		}
	}
}

func TestPrintTurn(t *testing.T) {
	var buf bytes.Buffer
	PrintTurn(&buf, agent.TurnResult{
		Reason:  agent.ReasonExternalPending,
		Message: "checking",
		ToolCalls: []agent.ToolCallRecord{
			{Name: "fetch_url", Output: strings.Repeat("x", 500), Success: true},
			{Name: "run_code", Output: "Error: exit 1"},
		},
		ExternalCalls: []llm.ToolCall{{Name: "ask_human", Arguments: json.RawMessage(`{"q":"?"}`)}},
		Usage:         llm.TokenUsage{PromptTokens: 30, CompletionTokens: 12},
		Iterations:    1,
		ModelCalls:    2,
		Forced:        true,
	})

	out := buf.String()
	for _, want := range []string{
		"checking",
		"[ok] fetch_url: " + strings.Repeat("x", maxObservationLen) + "...",
		"[error] run_code: Error: exit 1",
		`[pending] ask_human {"q":"?"}`,
		"(external_pending: 1 iterations, 2 model calls, 30 prompt + 12 completion tokens, forced)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemoryStorage()

	var buf bytes.Buffer
	if err := Sessions(ctx, &buf, store, ""); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No stored sessions") {
		t.Errorf("unexpected output: %s", buf.String())
	}

	_ = store.Save(ctx, "s1/web_agent", []llm.ChatMessage{llm.SystemMessage("sys")})
	_ = store.RecordTurn(ctx, storage.TurnRecord{
		ID: "t1", SessionID: "s1/web_agent", Agent: "web_agent", Reason: "completed",
		Iterations: 2, ModelCalls: 3, PromptTokens: 100, CompletionTokens: 20,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})

	buf.Reset()
	if err := Sessions(ctx, &buf, store, ""); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "s1/web_agent" {
		t.Errorf("unexpected session list: %q", buf.String())
	}

	buf.Reset()
	if err := Sessions(ctx, &buf, store, "s1/web_agent"); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "2026-01-02T03:04:05Z") || !strings.Contains(out, "iter=2 calls=3 tokens=100/20") {
		t.Errorf("unexpected turn listing: %s", out)
	}
}

func TestListRolesAndTools(t *testing.T) {
	var buf bytes.Buffer
	ListRoles(&buf, config.DefaultTeam())
	out := buf.String()
	if !strings.Contains(out, "web_agent") || !strings.Contains(out, "tools: fetch_url") {
		t.Errorf("roles listing missing web_agent tools:\n%s", out)
	}
	if !strings.Contains(out, "send_answer") {
		t.Errorf("roles listing missing answer toolkit:\n%s", out)
	}

	buf.Reset()
	ListTools(&buf, true)
	out = buf.String()
	for _, want := range []string{"fetch_url", "read_document", "run_code", "submit_evidence", "evidence_type*: string"} {
		if !strings.Contains(out, want) {
			t.Errorf("tools listing missing %q:\n%s", want, out)
		}
	}
}

func TestSetup(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "anemoi.db")
	t.Setenv("CORAL_SESSION_ID", "")

	var out, logs bytes.Buffer
	env, err := Setup(context.Background(), Options{
		Provider:    "openai",
		DBPath:      dbPath,
		MetricsAddr: "127.0.0.1:0",
		LogFormat:   "json",
		Out:         &out,
		Log:         &logs,
	})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	if env.Store == nil || env.Settings.Storage.DBPath != dbPath {
		t.Error("expected sqlite storage at the flag path")
	}
	if !strings.HasPrefix(env.Settings.Coral.SessionID, "local-") {
		t.Errorf("expected a generated session id, got %q", env.Settings.Coral.SessionID)
	}
	if len(env.Team.Roles) != 6 {
		t.Errorf("expected the built-in team, got %d roles", len(env.Team.Roles))
	}
	opts := env.TeamOptions()
	if opts.Store == nil || opts.Metrics == nil {
		t.Error("team options should carry storage and metrics")
	}
	if !strings.Contains(logs.String(), "conversation storage enabled") {
		t.Errorf("expected storage log record, got %s", logs.String())
	}

	if err := env.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestSetupErrors(t *testing.T) {
	if _, err := Setup(context.Background(), Options{Provider: "nope"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := Setup(context.Background(), Options{Provider: "openai", LogFormat: "xml"}); err == nil {
		t.Error("expected error for bad log format")
	}
	if _, err := Setup(context.Background(), Options{Provider: "openai", TeamFile: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Error("expected error for missing team file")
	}
}
