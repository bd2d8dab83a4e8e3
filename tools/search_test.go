package tools

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern, path string
		want          bool
	}{
		{"*.md", "notes.md", true},
		{"*.md", "docs/notes.md", false},
		{"**/*.md", "notes.md", true},
		{"**/*.md", "docs/a/notes.md", true},
		{"docs/**/*.csv", "docs/q1/sales.csv", true},
		{"docs/**/*.csv", "docs/sales.csv", true},
		{"docs/**/*.csv", "other/sales.csv", false},
		{"docs/**", "docs/a/b.txt", true},
		{"report.txt", "report.txt", true},
	}
	for _, tt := range tests {
		if got := MatchGlob(tt.pattern, tt.path); got != tt.want {
			t.Errorf("MatchGlob(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestFindFiles(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"a.md":             "a",
		"docs/b.md":        "b",
		"docs/data.csv":    "c",
		".git/config.md":   "hidden",
		"docs/deep/c.md":   "c",
		"docs/deep/d.json": "d",
	})
	tool := NewFindFilesTool(0)
	ctx := context.Background()

	result, _ := tool.Execute(ctx, json.RawMessage(`{"pattern":"**/*.md","path":"`+dir+`"}`))
	if !result.Success() {
		t.Fatalf("unexpected failure: %v", result.Error)
	}
	for _, want := range []string{"Found 3 files", "a.md", filepath.Join("docs", "b.md"), filepath.Join("docs", "deep", "c.md")} {
		if !strings.Contains(result.Output, want) {
			t.Errorf("output missing %q:\n%s", want, result.Output)
		}
	}
	if strings.Contains(result.Output, "config.md") {
		t.Errorf("hidden directory should be skipped:\n%s", result.Output)
	}

	result, _ = tool.Execute(ctx, json.RawMessage(`{"pattern":"**/*.md","path":"`+dir+`","max_results":1}`))
	if !strings.Contains(result.Output, "limited to 1 results") {
		t.Errorf("expected limit notice:\n%s", result.Output)
	}

	result, _ = tool.Execute(ctx, json.RawMessage(`{"pattern":"*.pdf","path":"`+dir+`"}`))
	if !result.Success() || !strings.Contains(result.Output, "No files match") {
		t.Errorf("expected explicit empty result, got %+v", result)
	}

	result, _ = tool.Execute(ctx, json.RawMessage(`{"pattern":"*.md","path":"`+filepath.Join(dir, "missing")+`"}`))
	if result.Success() {
		t.Error("expected missing directory to fail")
	}

	if err := tool.Validate(json.RawMessage(`{"pattern":"  "}`)); err == nil {
		t.Error("expected empty pattern to fail validation")
	}
	if err := tool.Validate(json.RawMessage(`{"pattern":"[a-"}`)); err == nil {
		t.Error("expected malformed pattern to fail validation")
	}
}

func TestSearchDocumentsCommand(t *testing.T) {
	tool := NewSearchDocumentsTool(5)
	got := tool.command(searchDocumentsArgs{
		Pattern:      "revenue",
		Path:         "docs",
		Glob:         "*.md",
		IgnoreCase:   true,
		FixedStrings: true,
		Context:      2,
		MaxResults:   5000,
	})
	want := []string{
		"--no-messages", "--color=never", "--line-number", "--with-filename",
		"--max-count", "100",
		"-i", "-F", "-C", "2", "-g", "*.md",
		"--", "revenue", "docs",
	}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("command() = %v\nwant %v", got, want)
	}

	if err := tool.Validate(json.RawMessage(`{"pattern":""}`)); err == nil {
		t.Error("expected empty pattern to fail validation")
	}
	if err := tool.Validate(json.RawMessage(`{"pattern":"x","context":-1}`)); err == nil {
		t.Error("expected negative context to fail validation")
	}
}

func TestSearchDocuments(t *testing.T) {
	if _, err := exec.LookPath("rg"); err != nil {
		t.Skip("ripgrep not installed")
	}
	dir := writeTree(t, map[string]string{
		"q1.md": "Revenue grew 12%\nCosts were flat\n",
		"q2.md": "revenue fell\n",
	})
	tool := NewSearchDocumentsTool(10)
	ctx := context.Background()

	result, _ := tool.Execute(ctx, json.RawMessage(`{"pattern":"revenue","path":"`+dir+`","ignore_case":true}`))
	if !result.Success() || !strings.Contains(result.Output, "q1.md:1:Revenue grew 12%") || !strings.Contains(result.Output, "q2.md:1:revenue fell") {
		t.Errorf("unexpected result: %+v", result)
	}

	result, _ = tool.Execute(ctx, json.RawMessage(`{"pattern":"profit","path":"`+dir+`"}`))
	if !result.Success() || !strings.Contains(result.Output, "No matches") {
		t.Errorf("expected explicit no-match result, got %+v", result)
	}
}

func TestSearchDocumentsMissingBinary(t *testing.T) {
	tool := NewSearchDocumentsTool(5).WithBinary(filepath.Join(t.TempDir(), "no-rg"))
	result, _ := tool.Execute(context.Background(), json.RawMessage(`{"pattern":"x"}`))
	if result.Success() || !strings.Contains(result.Error.Error(), "failed to run search") {
		t.Errorf("expected launch failure, got %+v", result)
	}
}

func TestRunCodeScrubsEnvironment(t *testing.T) {
	t.Setenv("ANEMOI_TEST_SECRET", "hunter2")
	code := `{"language":"sh","code":"echo \"[$ANEMOI_TEST_SECRET]\""}`

	result, _ := NewRunCodeTool(10).Execute(context.Background(), json.RawMessage(code))
	if !result.Success() || strings.TrimSpace(result.Output) != "[]" {
		t.Errorf("sandboxed program saw the parent environment: %+v", result)
	}

	result, _ = NewRunCodeTool(10).WithInheritEnv(true).Execute(context.Background(), json.RawMessage(code))
	if !result.Success() || strings.TrimSpace(result.Output) != "[hunter2]" {
		t.Errorf("expected inherited environment: %+v", result)
	}
}
