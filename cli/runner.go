// Command execution for CLI commands.
//
// Information Hiding:
// - Settings, team and storage setup hidden
// - Metrics endpoint lifecycle hidden
// - Output formatting hidden

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/richinex/anemoi/agent"
	"github.com/richinex/anemoi/config"
	"github.com/richinex/anemoi/coral"
	"github.com/richinex/anemoi/metrics"
	"github.com/richinex/anemoi/storage"
	"github.com/richinex/anemoi/team"
)

// Options holds CLI execution options.
type Options struct {
	Provider    string
	TeamFile    string
	MCPConfig   string
	DBPath      string
	MetricsAddr string
	LogFormat   string
	LogLevel    string
	// Out receives command output, Log receives log records.
	Out io.Writer
	Log io.Writer
}

// DefaultOptions returns default CLI options.
func DefaultOptions() Options {
	return Options{
		LogFormat: "text",
		LogLevel:  "info",
	}
}

// Environment is everything a command needs, built once from Options.
type Environment struct {
	Settings config.Settings
	Team     config.Team
	Servers  *coral.Config
	Logger   *slog.Logger
	Store    *storage.SqliteStorage
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	out     io.Writer
	closers []func() error
}

// Setup loads settings and the team, opens storage and starts the metrics
// endpoint when configured. Flags override environment values.
func Setup(ctx context.Context, opts Options) (*Environment, error) {
	out, logOut := opts.Out, opts.Log
	if out == nil {
		out = os.Stdout
	}
	if logOut == nil {
		logOut = os.Stderr
	}
	logger, err := NewLogger(opts.LogFormat, opts.LogLevel, logOut)
	if err != nil {
		return nil, err
	}

	settings, err := config.New(opts.Provider)
	if err != nil {
		return nil, err
	}
	if opts.DBPath != "" {
		settings.Storage.DBPath = opts.DBPath
	}
	if opts.MetricsAddr != "" {
		settings.Metrics.Addr = opts.MetricsAddr
	}

	teamDef := config.DefaultTeam()
	if opts.TeamFile != "" {
		if teamDef, err = config.LoadTeam(opts.TeamFile); err != nil {
			return nil, err
		}
	}

	env := &Environment{
		Settings: settings,
		Team:     teamDef,
		Logger:   logger,
		out:      out,
	}

	if opts.MCPConfig != "" {
		servers, err := coral.LoadConfig(opts.MCPConfig)
		if err != nil {
			return nil, err
		}
		env.Servers = servers
	}

	if path := settings.Storage.DBPath; path != "" {
		store, err := storage.OpenSqlite(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		env.Store = store
		env.closers = append(env.closers, store.Close)
		if env.Settings.Coral.SessionID == "" {
			env.Settings.Coral.SessionID = NewSessionID()
		}
		logger.Info("conversation storage enabled", "path", path, "session", env.Settings.Coral.SessionID)
	}

	env.Registry = prometheus.NewRegistry()
	env.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	env.Metrics = metrics.New(env.Registry)
	if addr := settings.Metrics.Addr; addr != "" {
		stop := serveMetrics(addr, metrics.Handler(env.Registry), logger)
		env.closers = append(env.closers, stop)
	}

	return env, nil
}

// Close releases storage and stops the metrics endpoint.
func (e *Environment) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// TeamOptions returns the options team.Build and team.Run take.
func (e *Environment) TeamOptions() team.Options {
	opts := team.Options{
		Settings: e.Settings,
		Team:     e.Team,
		Servers:  e.Servers,
		Logger:   e.Logger,
		Metrics:  e.Metrics,
	}
	if e.Store != nil {
		opts.Store = e.Store
	}
	return opts
}

// RunRole connects one role to Coral and runs its prompt loop.
func RunRole(ctx context.Context, roleID string, opts Options) error {
	env, err := Setup(ctx, opts)
	if err != nil {
		return err
	}
	defer env.Close()

	role, ok := env.Team.Role(roleID)
	if !ok {
		return fmt.Errorf("unknown role '%s' (available: %s)", roleID, strings.Join(roleIDs(env.Team), ", "))
	}

	member, err := team.Build(ctx, role, env.TeamOptions())
	if err != nil {
		return err
	}
	defer member.Close(context.Background())

	err = team.Loop(ctx, member.Agent, team.LoopFor(env.Settings, env.Team, role), env.Logger)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RunTeam runs the selected roles (all when none are named) concurrently.
func RunTeam(ctx context.Context, ids []string, opts Options) error {
	env, err := Setup(ctx, opts)
	if err != nil {
		return err
	}
	defer env.Close()

	roles, err := env.Team.Select(ids...)
	if err != nil {
		return err
	}
	env.Logger.Info("starting team", "roles", len(roles), "session", env.Settings.Coral.SessionID)

	err = team.Run(ctx, roles, env.TeamOptions())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Ask runs a single turn for a role and prints the outcome.
func Ask(ctx context.Context, roleID, input string, opts Options) error {
	env, err := Setup(ctx, opts)
	if err != nil {
		return err
	}
	defer env.Close()

	role, ok := env.Team.Role(roleID)
	if !ok {
		return fmt.Errorf("unknown role '%s'", roleID)
	}
	member, err := team.Build(ctx, role, env.TeamOptions())
	if err != nil {
		return err
	}
	defer member.Close(context.Background())

	result, err := member.Agent.Step(ctx, input)
	PrintTurn(env.out, result)
	return err
}

// PrintTurn writes a turn summary.
func PrintTurn(w io.Writer, r agent.TurnResult) {
	if r.Message != "" {
		fmt.Fprintf(w, "%s\n\n", r.Message)
	}
	for _, tc := range r.ToolCalls {
		status := "ok"
		if !tc.Success {
			status = "error"
		}
		fmt.Fprintf(w, "  [%s] %s: %s\n", status, tc.Name, truncateString(tc.Output, maxObservationLen))
	}
	for _, ext := range r.ExternalCalls {
		fmt.Fprintf(w, "  [pending] %s %s\n", ext.Name, string(ext.Arguments))
	}
	forced := ""
	if r.Forced {
		forced = ", forced"
	}
	fmt.Fprintf(w, "(%s: %d iterations, %d model calls, %d prompt + %d completion tokens%s)\n",
		r.Reason, r.Iterations, r.ModelCalls, r.Usage.PromptTokens, r.Usage.CompletionTokens, forced)
}

// Sessions lists stored sessions, or the turns of one session.
func Sessions(ctx context.Context, w io.Writer, store storage.Storage, sessionID string) error {
	if sessionID == "" {
		sessions, err := store.ListSessions(ctx)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Fprintln(w, "No stored sessions.")
			return nil
		}
		for _, s := range sessions {
			fmt.Fprintln(w, s)
		}
		return nil
	}

	turns, err := store.ListTurns(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		fmt.Fprintf(w, "No turns recorded for '%s'.\n", sessionID)
		return nil
	}
	for _, t := range turns {
		forced := ""
		if t.Forced {
			forced = " forced"
		}
		fmt.Fprintf(w, "%s  %-20s %-18s iter=%d calls=%d tokens=%d/%d%s\n",
			t.CreatedAt.Format(time.RFC3339), t.Agent, t.Reason,
			t.Iterations, t.ModelCalls, t.PromptTokens, t.CompletionTokens, forced)
	}
	return nil
}

// NewSessionID returns a fresh session identifier for local runs.
func NewSessionID() string {
	return "local-" + uuid.NewString()[:8]
}

// serveMetrics starts the metrics endpoint and returns its shutdown func.
func serveMetrics(addr string, handler http.Handler, logger *slog.Logger) func() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed", "error", err)
		}
	}()

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

const maxObservationLen = 200

// truncateString truncates a string to maxLen runes, preserving UTF-8 boundaries.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
