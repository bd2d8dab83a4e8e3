// Agent runtime: owns the conversation, tool registry, response history and
// resource resolver of one agent.
//
// Information Hiding:
// - Registry construction and tool classification hidden
// - Turn serialization hidden
// - Persistence and metrics hooks hidden
// - Ownership of fetcher connections hidden

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/richinex/anemoi/llm"
	"github.com/richinex/anemoi/memory"
	"github.com/richinex/anemoi/resource"
	"github.com/richinex/anemoi/storage"
	"github.com/richinex/anemoi/tools"
)

const tracerName = "github.com/richinex/anemoi/agent"

// Store persists conversations and turn outcomes.
type Store interface {
	Save(ctx context.Context, sessionID string, history []llm.ChatMessage) error
	Load(ctx context.Context, sessionID string) ([]llm.ChatMessage, error)
	RecordTurn(ctx context.Context, record storage.TurnRecord) error
}

// Recorder receives runtime measurements.
type Recorder interface {
	ObserveTurn(agent string, reason Reason, iterations int, usage llm.TokenUsage, elapsed time.Duration)
	ObserveModelCalls(agent string, attempts, degenerate int, forced bool)
	ObserveToolCall(agent, tool string, success bool, elapsed time.Duration)
}

// Agent executes turns against a model with resource-refreshed prompts.
// Only one turn runs at a time; Step is the sole mutating entry point.
type Agent struct {
	config     Config
	client     *llm.Client
	registry   *tools.Registry
	executor   *tools.Executor
	resolver   *resource.Resolver
	fetcher    resource.Fetcher
	memory     *memory.Memory
	history    *History
	stabilizer *Stabilizer
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    Recorder
	store      Store
	sessionID  string

	turnMu  sync.Mutex
	stopped atomic.Bool
	// pending holds external calls still awaiting results; guarded by turnMu.
	pending []llm.ToolCall
}

// Option configures an Agent.
type Option func(*Agent)

// WithFetcher sets the resource fetcher. If it implements io.Closer the agent
// closes it in Close.
func WithFetcher(f resource.Fetcher) Option {
	return func(a *Agent) { a.fetcher = f }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithStore enables persistence of the conversation and turn records under
// sessionID. An existing conversation for the session is restored.
func WithStore(store Store, sessionID string) Option {
	return func(a *Agent) {
		a.store = store
		a.sessionID = sessionID
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r Recorder) Option {
	return func(a *Agent) { a.metrics = r }
}

// WithTracer sets the tracer used for turn and attempt spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Agent) {
		if tracer != nil {
			a.tracer = tracer
		}
	}
}

// WithToolConfig overrides the tool execution configuration.
func WithToolConfig(cfg tools.ToolConfig) Option {
	return func(a *Agent) { a.executor = tools.NewExecutor(cfg) }
}

// New creates an agent. Tool names must be unique across internal and
// external tools.
func New(cfg Config, provider llm.Provider, opts ...Option) (*Agent, error) {
	if provider == nil {
		return nil, errors.New("agent: provider is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	for _, tool := range cfg.Tools {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("agent %s: %w", cfg.Name, err)
		}
	}
	for _, tool := range cfg.ExternalTools {
		if err := registry.RegisterExternal(tool); err != nil {
			return nil, fmt.Errorf("agent %s: %w", cfg.Name, err)
		}
	}

	a := &Agent{
		config:   cfg,
		registry: registry,
		executor: tools.NewDefaultExecutor(),
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("agent", cfg.Name)

	a.client = llm.NewClient(provider).WithLogger(a.logger)
	a.resolver = resource.NewResolver(a.fetcher).WithLogger(a.logger)
	a.history = NewHistory(cfg.HistoryCapacity)
	a.stabilizer = NewStabilizer(a.client, a.history).
		WithAttempts(cfg.Attempts).
		WithThreshold(cfg.DuplicateThreshold).
		WithEscalation(cfg.Escalation).
		WithLogger(a.logger).
		WithTracer(a.tracer)

	memOpts := []memory.Option{memory.WithWindow(cfg.Window), memory.WithTokenLimit(cfg.TokenLimit)}
	a.memory = memory.New(cfg.SystemPrompt, memOpts...)
	if a.store != nil && a.sessionID != "" {
		history, err := a.store.Load(context.Background(), a.sessionID)
		if err != nil {
			return nil, fmt.Errorf("agent %s: load session: %w", cfg.Name, err)
		}
		if len(history) > 0 {
			restored, err := memory.Restore(history, memOpts...)
			if err != nil {
				return nil, fmt.Errorf("agent %s: restore session: %w", cfg.Name, err)
			}
			a.memory = restored
		}
	}

	return a, nil
}

// Name returns the agent's name.
func (a *Agent) Name() string {
	return a.config.Name
}

// Description returns the agent's description.
func (a *Agent) Description() string {
	return a.config.Description
}

// Config returns the effective configuration.
func (a *Agent) Config() Config {
	return a.config
}

// Messages returns a copy of the conversation.
func (a *Agent) Messages() []llm.ChatMessage {
	return a.memory.Messages()
}

// Stop signals the running turn, and every later one, to end with reason
// cancelled at the next iteration boundary.
func (a *Agent) Stop() {
	a.stopped.Store(true)
}

// Resume clears a previous Stop.
func (a *Agent) Resume() {
	a.stopped.Store(false)
}

// Stopped reports whether Stop is in effect.
func (a *Agent) Stopped() bool {
	return a.stopped.Load()
}

// Reset drops the conversation back to the system message. It waits for a
// running turn to finish. The response history is cleared only under
// HistoryResetOnReset.
func (a *Agent) Reset() {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()

	a.memory.Reset()
	a.pending = nil
	if a.config.HistoryPolicy == HistoryResetOnReset {
		a.history.Reset()
	}
}

// Close releases the resource fetcher when the agent owns a closable one.
func (a *Agent) Close(ctx context.Context) error {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()

	if c, ok := a.fetcher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("agent %s: close fetcher: %w", a.config.Name, err)
		}
	}
	return nil
}
