// Turn controller: refresh, call the model, dispatch tools, repeat.
//
// Information Hiding:
// - Loop state machine hidden
// - Internal/external partitioning hidden
// - Concurrent tool dispatch hidden
// - Mapping of failures to termination reasons hidden

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/richinex/anemoi/llm"
	"github.com/richinex/anemoi/memory"
	"github.com/richinex/anemoi/storage"
	"github.com/richinex/anemoi/tools"
)

// missingExternalResult is recorded for external calls the caller never answered.
const missingExternalResult = "Error: no result was supplied for this external tool call"

// ExternalResult answers one pending external tool call.
type ExternalResult struct {
	CallID string
	Output string
}

// Step runs one turn for a user message. It returns ErrTurnInProgress if
// another turn is running. Fatal terminations return the partial result
// together with a *TurnError.
func (a *Agent) Step(ctx context.Context, input string) (TurnResult, error) {
	if !a.turnMu.TryLock() {
		return TurnResult{}, ErrTurnInProgress
	}
	defer a.turnMu.Unlock()

	a.closePending()
	return a.turn(ctx, &input)
}

// Continue resumes after an external_pending turn by supplying results for
// the external calls. Calls left unanswered get an error result.
func (a *Agent) Continue(ctx context.Context, results ...ExternalResult) (TurnResult, error) {
	if !a.turnMu.TryLock() {
		return TurnResult{}, ErrTurnInProgress
	}
	defer a.turnMu.Unlock()

	if len(a.pending) == 0 {
		return TurnResult{}, errors.New("no external tool calls are pending")
	}
	outputs := make(map[string]string, len(results))
	for _, r := range results {
		outputs[r.CallID] = r.Output
	}
	for _, call := range a.pending {
		out, ok := outputs[call.ID]
		if !ok {
			out = missingExternalResult
		}
		a.memory.Append(llm.ToolResultMessage(call.ID, call.Name, out))
	}
	a.pending = nil
	return a.turn(ctx, nil)
}

// Pending returns the external calls awaiting results.
func (a *Agent) Pending() []llm.ToolCall {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	return append([]llm.ToolCall(nil), a.pending...)
}

// closePending answers abandoned external calls so the conversation stays
// well formed for the backend.
func (a *Agent) closePending() {
	for _, call := range a.pending {
		a.memory.Append(llm.ToolResultMessage(call.ID, call.Name, missingExternalResult))
	}
	a.pending = nil
}

// turn wraps the loop with tracing, metrics, logging and persistence.
func (a *Agent) turn(ctx context.Context, input *string) (TurnResult, error) {
	start := time.Now()
	turnID := uuid.NewString()
	ctx, span := a.tracer.Start(ctx, "agent.step")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.name", a.config.Name),
		attribute.String("agent.turn_id", turnID),
	)

	if a.config.HistoryPolicy == HistoryResetEachTurn {
		a.history.Reset()
	}

	result, err := a.loop(ctx, input)
	result.TurnID = turnID

	span.SetAttributes(
		attribute.String("agent.reason", string(result.Reason)),
		attribute.Int("agent.iterations", result.Iterations),
		attribute.Int("agent.model_calls", result.ModelCalls),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	elapsed := time.Since(start)
	if a.metrics != nil {
		a.metrics.ObserveTurn(a.config.Name, result.Reason, result.Iterations, result.Usage, elapsed)
	}

	level := slogLevel(result.Reason, err)
	a.logger.Log(ctx, level, "turn finished",
		"turn", turnID,
		"reason", result.Reason,
		"iterations", result.Iterations,
		"model_calls", result.ModelCalls,
		"tokens", result.Usage.TotalTokens,
		"forced", result.Forced,
		"elapsed", elapsed,
		"error", err)

	a.persist(ctx, result)
	return result, err
}

// loop is the REFRESH -> CALL_MODEL -> DISPATCH state machine.
func (a *Agent) loop(ctx context.Context, input *string) (TurnResult, error) {
	var result TurnResult

	resolved := a.resolver.Resolve(ctx, a.config.SystemPrompt)
	if err := a.memory.ReplaceSystem(resolved); err != nil {
		return result, fmt.Errorf("refresh system prompt: %w", err)
	}
	if input != nil {
		a.memory.Append(llm.UserMessage(*input))
	}
	defs := a.registry.Definitions()

	for {
		if a.cancelled(ctx) {
			result.Reason = ReasonCancelled
			return result, nil
		}

		msgs, tokens, err := a.memory.Context()
		if err != nil {
			if errors.Is(err, memory.ErrContextTooLarge) {
				result.Reason = ReasonMaxTokensExceeded
				return result, &TurnError{Reason: ReasonMaxTokensExceeded, Err: err}
			}
			return result, err
		}
		result.ContextTokens = tokens

		sr, err := a.stabilizer.Call(ctx, llm.Request{
			Messages: msgs,
			Tools:    defs,
			Format:   a.config.ResponseFormat,
		}, a.config.Sampling)
		result.ModelCalls += sr.Attempts
		result.Usage.Add(&sr.Usage)
		if a.metrics != nil && sr.Attempts > 0 {
			a.metrics.ObserveModelCalls(a.config.Name, sr.Attempts, sr.Degenerate, sr.Forced)
		}
		if err != nil {
			switch {
			case a.cancelled(ctx):
				result.Reason = ReasonCancelled
				return result, nil
			case llm.IsBadRequest(err):
				result.Reason = ReasonBadRequest
				return result, &TurnError{Reason: ReasonBadRequest, Err: err}
			default:
				return result, fmt.Errorf("model call failed: %w", err)
			}
		}
		if sr.Forced {
			result.Forced = true
		}
		resp := sr.Response

		if a.cancelled(ctx) {
			result.Reason = ReasonCancelled
			return result, nil
		}

		if !resp.HasToolCalls() {
			a.memory.Append(llm.AssistantMessage(resp.Content))
			result.Message = resp.Content
			result.Reason = ReasonCompleted
			return result, nil
		}

		a.memory.Append(llm.AssistantToolCallMessage(resp.Content, resp.ToolCalls))
		internal, external := a.partition(resp.ToolCalls)

		if len(internal) > 0 {
			records := a.dispatch(ctx, internal)
			for _, rec := range records {
				a.memory.Append(llm.ToolResultMessage(rec.ID, rec.Name, rec.Output))
			}
			result.ToolCalls = append(result.ToolCalls, records...)
			result.Iterations++
		}
		a.logger.DebugContext(ctx, "dispatched tool calls",
			"iteration", result.Iterations,
			"internal", len(internal),
			"external", len(external))

		if len(external) > 0 {
			a.pending = external
			result.ExternalCalls = external
			result.Message = resp.Content
			result.Reason = ReasonExternalPending
			return result, nil
		}
		if result.Iterations >= a.config.MaxIterations {
			result.Reason = ReasonMaxIteration
			return result, nil
		}
	}
}

func (a *Agent) cancelled(ctx context.Context) bool {
	return ctx.Err() != nil || a.stopped.Load()
}

// partition splits calls by registry kind. Unknown names count as internal
// so that the model sees a "not found" result and can correct itself.
func (a *Agent) partition(calls []llm.ToolCall) (internal, external []llm.ToolCall) {
	for _, call := range calls {
		if kind, ok := a.registry.Kind(call.Name); ok && kind == tools.KindExternal {
			external = append(external, call)
			continue
		}
		internal = append(internal, call)
	}
	return internal, external
}

// dispatch runs internal calls concurrently and returns records in request
// order. Every failure is captured in its record.
func (a *Agent) dispatch(ctx context.Context, calls []llm.ToolCall) []ToolCallRecord {
	records := make([]ToolCallRecord, len(calls))

	var g errgroup.Group
	g.SetLimit(a.config.ToolConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			records[i] = a.runTool(ctx, call)
			return nil
		})
	}
	_ = g.Wait() // tool failures are captured in the records

	return records
}

func (a *Agent) runTool(ctx context.Context, call llm.ToolCall) ToolCallRecord {
	start := time.Now()
	rec := ToolCallRecord{
		ID:        call.ID,
		Name:      call.Name,
		Arguments: json.RawMessage(call.Arguments),
	}

	var result tools.ToolResult
	if tool, ok := a.registry.Get(call.Name); ok {
		result = a.executor.Run(ctx, tool, json.RawMessage(call.Arguments))
	} else {
		result = tools.FailureResultf("tool '%s' not found; available tools: %v", call.Name, a.registry.Names())
	}

	rec.Output = result.Content()
	rec.Success = result.Success()
	rec.Duration = time.Since(start)

	if a.metrics != nil {
		a.metrics.ObserveToolCall(a.config.Name, call.Name, rec.Success, rec.Duration)
	}
	if !rec.Success {
		a.logger.WarnContext(ctx, "tool call failed", "tool", call.Name, "error", result.Error)
	}
	return rec
}

// persist saves the conversation and the turn record. Failures are logged.
func (a *Agent) persist(ctx context.Context, result TurnResult) {
	if a.store == nil || a.sessionID == "" {
		return
	}
	// Persist even when the turn was cancelled.
	ctx = context.WithoutCancel(ctx)

	if err := a.store.Save(ctx, a.sessionID, a.memory.Messages()); err != nil {
		a.logger.WarnContext(ctx, "failed to save conversation", "error", err)
	}
	record := storage.TurnRecord{
		ID:               result.TurnID,
		SessionID:        a.sessionID,
		Agent:            a.config.Name,
		Reason:           string(result.Reason),
		Iterations:       result.Iterations,
		ModelCalls:       result.ModelCalls,
		PromptTokens:     int(result.Usage.PromptTokens),
		CompletionTokens: int(result.Usage.CompletionTokens),
		Forced:           result.Forced,
		CreatedAt:        time.Now().UTC(),
	}
	if err := a.store.RecordTurn(ctx, record); err != nil {
		a.logger.WarnContext(ctx, "failed to record turn", "error", err)
	}
}

func slogLevel(reason Reason, err error) slog.Level {
	switch {
	case err != nil:
		return slog.LevelError
	case reason == ReasonMaxIteration || reason == ReasonCancelled:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
