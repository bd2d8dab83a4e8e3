package team

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/goleak"

	"github.com/richinex/anemoi/agent"
	"github.com/richinex/anemoi/answer"
	"github.com/richinex/anemoi/config"
	"github.com/richinex/anemoi/coral"
	"github.com/richinex/anemoi/internal/llmtest"
	"github.com/richinex/anemoi/llm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

const (
	connectionURL = "http://hub:5555/devmode/app/priv/s1/sse"
	boardURL      = "coral://hub:5555/devmode/app/priv/s1/sse"
)

// hubSession stands in for a Coral server.
type hubSession struct {
	mu     sync.Mutex
	board  string
	closed bool
}

func (s *hubSession) ListTools(ctx context.Context, params *mcpsdk.ListToolsParams) (*mcpsdk.ListToolsResult, error) {
	return &mcpsdk.ListToolsResult{Tools: []*mcpsdk.Tool{
		{Name: "send_message", Description: "Send a message to a thread"},
	}}, nil
}

func (s *hubSession) CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "sent"}}}, nil
}

func (s *hubSession) ReadResource(ctx context.Context, params *mcpsdk.ReadResourceParams) (*mcpsdk.ReadResourceResult, error) {
	if params.URI != boardURL {
		return &mcpsdk.ReadResourceResult{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &mcpsdk.ReadResourceResult{Contents: []*mcpsdk.ResourceContents{{URI: params.URI, Text: s.board}}}, nil
}

func (s *hubSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type recordingSink struct {
	mu   sync.Mutex
	subs []answer.Submission
}

func (s *recordingSink) Submit(ctx context.Context, sub answer.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
	return nil
}

func testSettings() config.Settings {
	return config.Settings{
		LLM:        config.LLMConfig{Provider: "openai", Model: "gpt-4.1-mini"},
		Sampling:   config.SamplingConfig{Temperature: 0, FrequencyPenalty: 0, TopP: 0.99},
		Stabilizer: config.StabilizerConfig{Attempts: 7, DuplicateThreshold: 2, HistoryPolicy: "retain"},
		Agent: config.AgentConfig{
			MaxIterations:  5,
			WindowMessages: 60,
			TokenLimit:     80000,
			LoopIterations: 2,
			ToolTimeout:    5,
			ToolRetries:    1,
		},
		Coral:  config.CoralConfig{ConnectionURL: connectionURL, SessionID: "s1"},
		Task:   config.TaskConfig{ID: "q-7", Instruction: "What is the capital of Australia?"},
		Answer: config.AnswerConfig{ServerURL: "http://127.0.0.1:1/answers"},
	}
}

// fakeTeam provides Coral sessions and scripted providers per role.
type fakeTeam struct {
	mu        sync.Mutex
	sessions  map[string]*hubSession
	providers map[string]*llmtest.ScriptedProvider
	script    func(role string) *llmtest.ScriptedProvider
}

func newFakeTeam() *fakeTeam {
	return &fakeTeam{
		sessions:  make(map[string]*hubSession),
		providers: make(map[string]*llmtest.ScriptedProvider),
	}
}

func (f *fakeTeam) options(settings config.Settings, team config.Team) Options {
	return Options{
		Settings: settings,
		Team:     team,
		Connect: func(ctx context.Context, role config.Role) (*coral.Client, error) {
			session := &hubSession{board: "thread general: " + role.ID + " joined"}
			f.mu.Lock()
			f.sessions[role.ID] = session
			f.mu.Unlock()

			key, err := coral.ConnectionURL(connectionURL, role.ID, role.Description)
			if err != nil {
				return nil, err
			}
			client := coral.NewClient()
			client.Attach(key, session, time.Second)
			return client, nil
		},
		NewProvider: func(role config.Role) (llm.Provider, error) {
			var p *llmtest.ScriptedProvider
			if f.script != nil {
				p = f.script(role.ID)
			} else {
				p = llmtest.NewScriptedProvider()
				p.Next = func(n int, req llm.Request) llmtest.Response {
					return llmtest.Text(fmt.Sprintf("%s reply %d", role.ID, n))
				}
			}
			f.mu.Lock()
			f.providers[role.ID] = p
			f.mu.Unlock()
			return p, nil
		},
	}
}

func TestCoralResource(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://localhost:5555/devmode/app/priv/s1/sse", "coral://localhost:5555/devmode/app/priv/s1/sse"},
		{"https://hub.example.com/sse", "coral://hub.example.com/sse"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CoralResource(tt.in); got != tt.want {
			t.Errorf("CoralResource(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderPrompt(t *testing.T) {
	team := config.DefaultTeam()
	settings := testSettings()

	web, _ := team.Role("web_agent")
	prompt, err := RenderPrompt(team, web, settings)
	if err != nil {
		t.Fatalf("RenderPrompt() error = %v", err)
	}
	for _, want := range []string{
		"You are the web_agent",
		"<resource>" + boardURL + "</resource>",
		"- critique_agent: ",
		"What is the capital of Australia?",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "send_answer") {
		t.Error("non-answer role should get the shared task context")
	}

	answerer, _ := team.Role("answer_finding_agent")
	prompt, err = RenderPrompt(team, answerer, settings)
	if err != nil {
		t.Fatalf("RenderPrompt() error = %v", err)
	}
	if !strings.Contains(prompt, "send_answer") {
		t.Error("answer role should get the answer task context")
	}

	broken := team
	broken.Guide = "{{.Missing}}"
	if _, err := RenderPrompt(broken, web, settings); err == nil {
		t.Error("expected error for unknown template field")
	}
}

func TestBuild(t *testing.T) {
	fake := newFakeTeam()
	team := config.DefaultTeam()
	opts := fake.options(testSettings(), team)
	sink := &recordingSink{}
	opts.AnswerSink = sink

	role, _ := team.Role("answer_finding_agent")
	role.Tools = []string{"run_code"}
	member, err := Build(context.Background(), role, opts)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var names []string
	for _, tool := range member.Agent.Config().Tools {
		names = append(names, tool.Metadata().Name)
	}
	want := []string{"send_message", "run_code", "submit_evidence", "submit_justification", "send_answer", "give_up"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("tools = %v, want %v", names, want)
	}

	result, err := member.Agent.Step(context.Background(), "start")
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if result.Reason != agent.ReasonCompleted {
		t.Errorf("reason = %s", result.Reason)
	}
	system := fake.providers[role.ID].Requests()[0].Messages[0].Content
	if !strings.Contains(system, "thread general: answer_finding_agent joined") {
		t.Errorf("system prompt not refreshed from coral:\n%s", system)
	}

	if err := member.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !fake.sessions[role.ID].closed {
		t.Error("coral session not closed")
	}
}

func TestBuildUnknownTool(t *testing.T) {
	fake := newFakeTeam()
	opts := fake.options(testSettings(), config.DefaultTeam())

	_, err := Build(context.Background(), config.Role{ID: "x", Prompt: "p", Tools: []string{"teleport"}}, opts)
	if err == nil || !strings.Contains(err.Error(), "teleport") {
		t.Fatalf("Build() error = %v, want unknown tool", err)
	}
	if !fake.sessions["x"].closed {
		t.Error("coral session leaked on failed build")
	}
}

// countingStepper records inputs and fails on demand.
type countingStepper struct {
	mu     sync.Mutex
	inputs []string
	failOn int
	cancel context.CancelFunc
	stopAt int
}

func (s *countingStepper) Name() string { return "counter" }

func (s *countingStepper) Step(ctx context.Context, input string) (agent.TurnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, input)
	n := len(s.inputs)
	if s.cancel != nil && n == s.stopAt {
		s.cancel()
	}
	if n == s.failOn {
		return agent.TurnResult{}, errors.New("backend unavailable")
	}
	return agent.TurnResult{Reason: agent.ReasonCompleted, Message: "ok"}, nil
}

func TestLoop(t *testing.T) {
	s := &countingStepper{failOn: 2}
	err := Loop(context.Background(), s, LoopConfig{Initial: "hello", Prompt: "continue", Iterations: 3, Sleep: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("Loop() error = %v", err)
	}
	want := []string{"hello", "continue", "continue", "continue"}
	if strings.Join(s.inputs, ",") != strings.Join(want, ",") {
		t.Errorf("inputs = %v, want %v", s.inputs, want)
	}
}

func TestLoopWithoutPrompt(t *testing.T) {
	s := &countingStepper{}
	if err := Loop(context.Background(), s, LoopConfig{Initial: "hello", Iterations: 5}, nil); err != nil {
		t.Fatalf("Loop() error = %v", err)
	}
	if len(s.inputs) != 1 {
		t.Errorf("expected only the initial prompt, got %v", s.inputs)
	}
}

func TestLoopCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &countingStepper{cancel: cancel, stopAt: 1}

	err := Loop(ctx, s, LoopConfig{Prompt: "continue", Iterations: 10, Sleep: time.Hour}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Loop() error = %v, want context.Canceled", err)
	}
	if len(s.inputs) != 1 {
		t.Errorf("expected 1 turn before cancellation, got %d", len(s.inputs))
	}
}

func TestRun(t *testing.T) {
	fake := newFakeTeam()
	team := config.DefaultTeam()
	settings := testSettings()
	settings.Agent.LoopSleep = time.Millisecond

	roles, err := team.Select("planning_agent", "critique_agent")
	if err != nil {
		t.Fatal(err)
	}
	if err := Run(context.Background(), roles, fake.options(settings, team)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// planning has an initial prompt, critique does not.
	if n := len(fake.providers["planning_agent"].Requests()); n != 3 {
		t.Errorf("planning_agent made %d model calls, want 3", n)
	}
	if n := len(fake.providers["critique_agent"].Requests()); n != 2 {
		t.Errorf("critique_agent made %d model calls, want 2", n)
	}
	for id, session := range fake.sessions {
		if !session.closed {
			t.Errorf("%s session not closed", id)
		}
	}
}

func TestRunBuildFailure(t *testing.T) {
	fake := newFakeTeam()
	team := config.DefaultTeam()
	opts := fake.options(testSettings(), team)
	opts.NewProvider = func(role config.Role) (llm.Provider, error) {
		return nil, errors.New("no credentials")
	}

	roles, _ := team.Select("web_agent")
	if err := Run(context.Background(), roles, opts); err == nil || !strings.Contains(err.Error(), "no credentials") {
		t.Fatalf("Run() error = %v", err)
	}
	if err := Run(context.Background(), nil, opts); !errors.Is(err, ErrNoRoles) {
		t.Errorf("Run(nil) error = %v, want ErrNoRoles", err)
	}
}
