// Package team assembles role agents that share a Coral session and runs
// them side by side.
//
// Information Hiding:
// - Coral connection and tool discovery per role hidden
// - Prompt rendering hidden
// - Provider construction from settings hidden

package team

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"go.opentelemetry.io/otel/trace"

	"github.com/richinex/anemoi/agent"
	"github.com/richinex/anemoi/answer"
	"github.com/richinex/anemoi/config"
	"github.com/richinex/anemoi/coral"
	"github.com/richinex/anemoi/llm"
	"github.com/richinex/anemoi/tools"
)

// Options carries everything Build and Run need besides the role.
type Options struct {
	Settings config.Settings
	Team     config.Team

	// Servers are extra MCP servers every role connects to.
	Servers *coral.Config

	Logger  *slog.Logger
	Store   agent.Store
	Metrics agent.Recorder
	Tracer  trace.Tracer

	// NewProvider overrides provider construction.
	NewProvider func(role config.Role) (llm.Provider, error)
	// Connect overrides the Coral connection of a role.
	Connect func(ctx context.Context, role config.Role) (*coral.Client, error)
	// AnswerSink overrides the HTTP answer sink.
	AnswerSink answer.Sink
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Member is one built role.
type Member struct {
	Role   config.Role
	Agent  *agent.Agent
	Coral  *coral.Client
	Answer *answer.Toolkit
}

// Close releases the member's Coral sessions.
func (m *Member) Close(ctx context.Context) error {
	return m.Agent.Close(ctx)
}

// Build connects a role to Coral, gathers its tools and creates its agent.
// The Coral tools come first, then the role's built-in tools, then the
// answer toolkit for answer-capable roles.
func Build(ctx context.Context, role config.Role, opts Options) (*Member, error) {
	logger := opts.logger().With("agent", role.ID)
	settings := opts.Settings

	client, err := connect(ctx, role, opts)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Member, error) {
		_ = client.Close()
		return nil, err
	}

	coralTools, err := client.Tools(ctx)
	if err != nil {
		return fail(fmt.Errorf("role %s: %w", role.ID, err))
	}
	logger.InfoContext(ctx, "loaded MCP tools", "count", len(coralTools))

	toolCfg := tools.ToolConfig{
		TimeoutSecs: settings.Agent.ToolTimeout,
		MaxRetries:  settings.Agent.ToolRetries,
		NoSandbox:   settings.Agent.ToolNoSandbox,
	}
	all := append([]tools.Tool{}, coralTools...)
	for _, name := range role.Tools {
		tool, err := tools.Builtin(name, toolCfg)
		if err != nil {
			return fail(fmt.Errorf("role %s: %w", role.ID, err))
		}
		all = append(all, tool)
	}

	var kit *answer.Toolkit
	if role.Answer {
		kit = answer.NewToolkit(answer.Config{
			ServerURL: settings.Answer.ServerURL,
			TaskID:    settings.Task.ID,
			SessionID: settings.Coral.SessionID,
		}).WithLogger(logger)
		if opts.AnswerSink != nil {
			kit.WithSink(opts.AnswerSink)
		}
		all = append(all, kit.Tools()...)
	}
	logger.InfoContext(ctx, "loaded role tools", "count", len(all)-len(coralTools))

	prompt, err := RenderPrompt(opts.Team, role, settings)
	if err != nil {
		return fail(err)
	}

	policy, err := agent.ParseHistoryPolicy(settings.Stabilizer.HistoryPolicy)
	if err != nil {
		return fail(err)
	}
	maxIter := role.MaxIterations
	if maxIter == 0 {
		maxIter = settings.Agent.MaxIterations
	}
	sampling := role.Sampling.Apply(settings.Sampling)

	cfg := agent.NewBuilder(role.ID).
		Description(role.Description).
		SystemPrompt(prompt).
		Tools(all).
		Sampling(llm.Sampling{
			Temperature:      sampling.Temperature,
			FrequencyPenalty: sampling.FrequencyPenalty,
			TopP:             sampling.TopP,
		}).
		MaxIterations(maxIter).
		ContextLimits(settings.Agent.WindowMessages, settings.Agent.TokenLimit).
		Stabilizer(settings.Stabilizer.Attempts, settings.Stabilizer.DuplicateThreshold).
		HistoryPolicy(policy).
		Build()

	newProvider := opts.NewProvider
	if newProvider == nil {
		newProvider = func(r config.Role) (llm.Provider, error) { return NewProvider(settings, r) }
	}
	provider, err := newProvider(role)
	if err != nil {
		return fail(fmt.Errorf("role %s: %w", role.ID, err))
	}

	agentOpts := []agent.Option{
		agent.WithFetcher(client),
		agent.WithLogger(opts.logger()),
		agent.WithToolConfig(toolCfg),
		agent.WithTracer(opts.Tracer),
	}
	if opts.Store != nil {
		agentOpts = append(agentOpts, agent.WithStore(opts.Store, SessionKey(settings.Coral.SessionID, role.ID)))
	}
	if opts.Metrics != nil {
		agentOpts = append(agentOpts, agent.WithMetrics(opts.Metrics))
	}

	a, err := agent.New(cfg, provider, agentOpts...)
	if err != nil {
		return fail(err)
	}
	logger.InfoContext(ctx, "agent created", "tools", len(all), "provider", provider.Name())
	return &Member{Role: role, Agent: a, Coral: client, Answer: kit}, nil
}

func connect(ctx context.Context, role config.Role, opts Options) (*coral.Client, error) {
	if opts.Connect != nil {
		client, err := opts.Connect(ctx, role)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", role.ID, err)
		}
		return client, nil
	}

	coralOpts := coral.Options{
		AgentID:          role.ID,
		AgentDescription: role.Description,
		Timeout:          opts.Settings.Coral.Timeout,
	}
	client := coral.NewClient().WithLogger(opts.logger())
	if url := opts.Settings.Coral.ConnectionURL; url != "" {
		if err := client.ConnectSSE(ctx, url, coralOpts); err != nil {
			return nil, fmt.Errorf("role %s: %w", role.ID, err)
		}
	} else {
		opts.logger().WarnContext(ctx, "CORAL_CONNECTION_URL not set, running without a coral session", "agent", role.ID)
	}
	if err := client.ConnectAll(ctx, opts.Servers, coralOpts); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("role %s: %w", role.ID, err)
	}
	return client, nil
}

// SessionKey names the stored conversation of a role within a session.
func SessionKey(sessionID, roleID string) string {
	if sessionID == "" {
		return roleID
	}
	return sessionID + "/" + roleID
}

// CoralResource turns a Coral connection URL into the coral:// resource that
// holds the session's messages and status.
func CoralResource(connectionURL string) string {
	if connectionURL == "" {
		return ""
	}
	rest := connectionURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+len("://"):]
	}
	return "coral://" + rest
}

type guideData struct {
	Roles         []config.Role
	CoralResource string
}

type taskData struct {
	Instruction string
	TaskID      string
}

// RenderPrompt builds a role's system prompt template: the role prompt, the
// collaboration guide and the task context. The result still contains the
// <resource> reference that the agent resolves before every turn.
func RenderPrompt(team config.Team, role config.Role, settings config.Settings) (string, error) {
	guide, err := render("guide", team.Guide, guideData{
		Roles:         team.Roles,
		CoralResource: CoralResource(settings.Coral.ConnectionURL),
	})
	if err != nil {
		return "", err
	}

	taskTmpl := team.TaskContext
	if role.Answer && team.AnswerTaskContext != "" {
		taskTmpl = team.AnswerTaskContext
	}
	task, err := render("task", taskTmpl, taskData{
		Instruction: settings.Task.Instruction,
		TaskID:      settings.Task.ID,
	})
	if err != nil {
		return "", err
	}

	parts := []string{strings.TrimSpace(role.Prompt)}
	if guide != "" {
		parts = append(parts, "Available tools and collaboration:\n"+guide)
	}
	if task != "" {
		parts = append(parts, task)
	}
	return strings.Join(parts, "\n\n"), nil
}

func render(name, text string, data any) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("invalid %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// NewProvider creates the model backend for a role from settings. The role
// may override the provider and model.
func NewProvider(settings config.Settings, role config.Role) (llm.Provider, error) {
	name := settings.LLM.Provider
	if role.Provider != "" {
		name = role.Provider
	}
	pt, err := llm.ParseProviderType(name)
	if err != nil {
		return nil, err
	}

	model := role.Model
	if model == "" {
		if role.Provider == "" || role.Provider == settings.LLM.Provider {
			model = settings.LLM.Model
		} else if model, err = config.ModelFor(role.Provider); err != nil {
			return nil, err
		}
	}

	b := llm.NewProviderBuilder(pt).Model(model).MaxTokens(settings.LLM.MaxTokens)
	if pt == llm.ProviderAzure {
		b = b.Azure(llm.AzureOptions{
			Endpoint:   settings.LLM.Azure.Endpoint,
			APIVersion: settings.LLM.Azure.APIVersion,
			Deployment: settings.LLM.Azure.Deployment,
		})
	}
	return b.FromEnv()
}

// ErrNoRoles is returned by Run when there is nothing to run.
var ErrNoRoles = errors.New("team: no roles to run")
