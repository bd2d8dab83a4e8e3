// Team execution: the per-agent prompt loop and the concurrent team runner.
//
// Information Hiding:
// - Iteration pacing hidden
// - Per-iteration error containment hidden
// - Goroutine lifecycle of the team hidden

package team

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/richinex/anemoi/agent"
	"github.com/richinex/anemoi/config"
)

// Stepper runs one turn. *agent.Agent satisfies it.
type Stepper interface {
	Name() string
	Step(ctx context.Context, input string) (agent.TurnResult, error)
}

// LoopConfig paces an agent's loop.
type LoopConfig struct {
	// Initial is sent once before the loop. Empty skips it.
	Initial string
	// Prompt is sent on every iteration. Empty skips the iterations.
	Prompt string
	// Iterations is the number of loop turns.
	Iterations int
	// Sleep is the pause after every loop turn.
	Sleep time.Duration
}

// LoopFor derives the loop of a role from settings and the team definition.
func LoopFor(settings config.Settings, team config.Team, role config.Role) LoopConfig {
	return LoopConfig{
		Initial:    role.InitialPrompt,
		Prompt:     team.LoopPrompt,
		Iterations: settings.Agent.LoopIterations,
		Sleep:      settings.Agent.LoopSleep,
	}
}

// Loop sends the initial prompt, then the loop prompt for the configured
// number of iterations. Turn failures are logged and the loop goes on; only
// cancellation ends it early, in which case ctx.Err() is returned.
func Loop(ctx context.Context, s Stepper, cfg LoopConfig, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("agent", s.Name())

	if cfg.Initial != "" {
		logger.InfoContext(ctx, "sending initial prompt")
		step(ctx, s, cfg.Initial, 0, logger)
	}

	if cfg.Prompt == "" {
		logger.InfoContext(ctx, "no loop prompt, skipping loop")
		return ctx.Err()
	}

	logger.InfoContext(ctx, "entering loop", "iterations", cfg.Iterations)
	for i := 1; i <= cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		step(ctx, s, cfg.Prompt, i, logger)

		if cfg.Sleep > 0 {
			timer := time.NewTimer(cfg.Sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return ctx.Err()
}

func step(ctx context.Context, s Stepper, input string, iteration int, logger *slog.Logger) {
	result, err := s.Step(ctx, input)
	if err != nil {
		logger.ErrorContext(ctx, "loop iteration failed", "iteration", iteration, "error", err)
		return
	}
	logger.InfoContext(ctx, "loop iteration finished",
		"iteration", iteration,
		"reason", result.Reason,
		"tool_calls", len(result.ToolCalls),
		"response", preview(result.Message, 200),
	)
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Run builds every role and runs their loops concurrently. A role that
// fails to build cancels the rest. Members are closed before Run returns.
func Run(ctx context.Context, roles []config.Role, opts Options) error {
	if len(roles) == 0 {
		return ErrNoRoles
	}
	logger := opts.logger()

	g, gctx := errgroup.WithContext(ctx)
	for _, role := range roles {
		g.Go(func() error {
			member, err := Build(gctx, role, opts)
			if err != nil {
				logger.ErrorContext(gctx, "failed to build agent", "agent", role.ID, "error", err)
				return err
			}
			defer func() {
				if err := member.Close(context.Background()); err != nil {
					logger.Warn("failed to close agent", "agent", role.ID, "error", err)
				}
			}()

			return Loop(gctx, member.Agent, LoopFor(opts.Settings, opts.Team, role), logger)
		})
	}
	return g.Wait()
}
