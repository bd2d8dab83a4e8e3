package coral

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/richinex/anemoi/resource"
)

// fakeSession serves canned resources and tools.
type fakeSession struct {
	mu        sync.Mutex
	resources map[string]string
	pages     [][]*mcpsdk.Tool
	readErr   error
	calls     []*mcpsdk.CallToolParams
	reply     *mcpsdk.CallToolResult
	closed    bool
}

func (s *fakeSession) ListTools(ctx context.Context, params *mcpsdk.ListToolsParams) (*mcpsdk.ListToolsResult, error) {
	page := 0
	if params != nil && params.Cursor != "" {
		page = int(params.Cursor[0] - '0')
	}
	result := &mcpsdk.ListToolsResult{Tools: s.pages[page]}
	if page+1 < len(s.pages) {
		result.NextCursor = string(rune('0' + page + 1))
	}
	return result, nil
}

func (s *fakeSession) CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, params)
	return s.reply, nil
}

func (s *fakeSession) ReadResource(ctx context.Context, params *mcpsdk.ReadResourceParams) (*mcpsdk.ReadResourceResult, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	text, ok := s.resources[params.URI]
	if !ok {
		return &mcpsdk.ReadResourceResult{}, nil
	}
	return &mcpsdk.ReadResourceResult{Contents: []*mcpsdk.ResourceContents{{URI: params.URI, Text: text}}}, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestConnectionURL(t *testing.T) {
	got, err := ConnectionURL("http://localhost:5555/devmode/app/priv/session1/sse", "web", "Searches the web & reads pages")
	if err != nil {
		t.Fatalf("ConnectionURL() error = %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("invalid URL %q: %v", got, err)
	}
	if u.Query().Get("agentId") != "web" {
		t.Errorf("agentId = %q", u.Query().Get("agentId"))
	}
	if u.Query().Get("agentDescription") != "Searches the web & reads pages" {
		t.Errorf("agentDescription = %q", u.Query().Get("agentDescription"))
	}
	if strings.Contains(got, " ") || strings.Contains(u.RawQuery, "& ") {
		t.Errorf("description not encoded: %s", got)
	}

	if _, err := ConnectionURL("", "web", ""); err == nil {
		t.Error("empty base URL should fail")
	}
}

func TestFetch(t *testing.T) {
	session := &fakeSession{resources: map[string]string{
		"coral://localhost:5555/devmode/app/priv/session1/sse": "thread: planning\n- web: found it",
	}}
	c := NewClient()
	c.Attach("http://localhost:5555/devmode/app/priv/session1/sse?agentId=web", session, 0)

	tests := []struct {
		name    string
		url     string
		want    string
		wantErr error
	}{
		{"hit", "coral://localhost:5555/devmode/app/priv/session1/sse", "thread: planning\n- web: found it", nil},
		{"unknown provider", "coral://elsewhere:1/x", "", resource.ErrNotFound},
		{"provider prefix of another host", "coral://localhost:55/x", "", resource.ErrNotFound},
		{"empty", "coral://localhost:5555/missing", "", resource.ErrEmpty},
		{"invalid", "not a url", "", resource.ErrInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Fetch(context.Background(), tt.url)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Fetch() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Fetch() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFetchTransportError(t *testing.T) {
	c := NewClient()
	c.Attach("http://hub:5555/sse", &fakeSession{readErr: errors.New("stream closed")}, 0)

	_, err := c.Fetch(context.Background(), "coral://hub:5555/sse")
	if !errors.Is(err, resource.ErrTransport) {
		t.Fatalf("Fetch() error = %v, want ErrTransport", err)
	}
	if !strings.Contains(err.Error(), "stream closed") {
		t.Errorf("cause missing from %v", err)
	}
}

func TestResolverWithClient(t *testing.T) {
	c := NewClient()
	c.Attach("http://hub:5555/sse", &fakeSession{resources: map[string]string{
		"coral://hub:5555/sse": "status: ok",
	}}, 0)

	out := resource.NewResolver(c).Resolve(context.Background(),
		"Board:\n<resource>coral://hub:5555/sse</resource>\nMissing: <resource>coral://nowhere/x</resource>")
	if !strings.Contains(out, "<resource_content url=\"coral://hub:5555/sse\">\nstatus: ok\n</resource_content>") {
		t.Errorf("resolved board missing:\n%s", out)
	}
	if !strings.Contains(out, "[Error fetching coral://nowhere/x:") {
		t.Errorf("failure marker missing:\n%s", out)
	}
}

func TestToolsPaginationAndCall(t *testing.T) {
	session := &fakeSession{
		pages: [][]*mcpsdk.Tool{
			{{Name: "send_message", Description: "Send a message"}},
			{{Name: "create_thread", Description: "Create a thread"}},
		},
		reply: &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "sent"}}},
	}
	c := NewClient()
	c.Attach("http://hub:5555/sse", session, 0)

	discovered, err := c.Tools(context.Background())
	if err != nil {
		t.Fatalf("Tools() error = %v", err)
	}
	if len(discovered) != 2 {
		t.Fatalf("Tools() returned %d tools, want 2", len(discovered))
	}
	if discovered[1].Metadata().Name != "create_thread" {
		t.Errorf("second tool = %s", discovered[1].Metadata().Name)
	}

	result, err := discovered[0].Execute(context.Background(), json.RawMessage(`{"threadId":"t1","content":"hi"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success() || result.Output != "sent" {
		t.Errorf("result = %+v", result)
	}
	args, _ := session.calls[0].Arguments.(map[string]any)
	if session.calls[0].Name != "send_message" || args["threadId"] != "t1" {
		t.Errorf("call = %+v", session.calls[0])
	}

	session.reply = &mcpsdk.CallToolResult{IsError: true, Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "no such thread"}}}
	result, _ = discovered[0].Execute(context.Background(), json.RawMessage(`{"threadId":"zz"}`))
	if result.Success() || !strings.Contains(result.Content(), "no such thread") {
		t.Errorf("tool error not reported: %+v", result)
	}
}

func TestToolsRejectsDuplicateNames(t *testing.T) {
	page := [][]*mcpsdk.Tool{{{Name: "send_message"}}}
	c := NewClient()
	c.Attach("http://a:1/sse", &fakeSession{pages: page}, 0)
	c.Attach("http://b:1/sse", &fakeSession{pages: page}, 0)

	if _, err := c.Tools(context.Background()); err == nil {
		t.Error("expected duplicate tool error")
	}
}

func TestParseParameters(t *testing.T) {
	schema := schemaMap(map[string]any{
		"properties": map[string]any{
			"b": map[string]any{"type": "integer", "description": "count"},
			"a": map[string]any{},
		},
		"required": []any{"b"},
	})
	params := parseParameters(schema)
	if len(params) != 2 || params[0].Name != "a" || params[0].ParamType != "string" {
		t.Fatalf("params = %+v", params)
	}
	if !params[1].Required || params[1].ParamType != "integer" || params[1].Description != "count" {
		t.Errorf("params[1] = %+v", params[1])
	}
	if schema["type"] != "object" {
		t.Errorf("schema type = %v", schema["type"])
	}
}

func TestAttachReplaceAndClose(t *testing.T) {
	first, second := &fakeSession{}, &fakeSession{}
	c := NewClient()
	c.Attach("http://hub:1/sse", first, 0)
	c.Attach("http://hub:1/sse", second, 0)

	if !first.closed {
		t.Error("replaced session not closed")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !second.closed || c.Len() != 0 {
		t.Error("Close() did not release sessions")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp.json")
	content := `{"mcpServers":{"search":{"command":"npx","args":["-y","server"]},"notes":{"url":"http://localhost:7000/sse"}}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if names := cfg.Names(); len(names) != 2 || names[0] != "notes" {
		t.Errorf("Names() = %v", names)
	}

	bad := filepath.Join(dir, "bad.json")
	_ = os.WriteFile(bad, []byte(`{"mcpServers":{"x":{}}}`), 0o644)
	if _, err := LoadConfig(bad); err == nil {
		t.Error("server without command or url should fail")
	}
}
