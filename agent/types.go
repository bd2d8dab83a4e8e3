// Package agent provides the resource-aware agent runtime.
//
// Contains the result and error types of a turn.
package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/richinex/anemoi/llm"
)

// Reason says why a turn ended.
type Reason string

const (
	// ReasonCompleted: the model answered without requesting tools.
	ReasonCompleted Reason = "completed"
	// ReasonExternalPending: the model requested external tools.
	ReasonExternalPending Reason = "external_pending"
	// ReasonMaxIteration: the tool dispatch budget was spent.
	ReasonMaxIteration Reason = "max_iteration"
	// ReasonCancelled: the context was cancelled or the agent was stopped.
	ReasonCancelled Reason = "cancelled"
	// ReasonBadRequest: the backend rejected the request as invalid.
	ReasonBadRequest Reason = "bad_request_error"
	// ReasonMaxTokensExceeded: the context could not fit the token limit.
	ReasonMaxTokensExceeded Reason = "max_tokens_exceeded"
)

// ErrTurnInProgress is returned when Step is called while a turn is running.
var ErrTurnInProgress = errors.New("agent turn already in progress")

// TurnError reports a turn that terminated for a fatal reason.
type TurnError struct {
	Reason Reason
	Err    error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn terminated (%s): %v", e.Reason, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// ToolCallRecord describes one internal tool invocation.
type ToolCallRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Output    string          `json:"output"`
	Success   bool            `json:"success"`
	Duration  time.Duration   `json:"duration"`
}

// TurnResult is the outcome of one Step.
type TurnResult struct {
	TurnID string
	Reason Reason
	// Message is the final assistant text, if any.
	Message string
	// ToolCalls records internal tool executions in request order.
	ToolCalls []ToolCallRecord
	// ExternalCalls are the requests handed back to the caller uninvoked.
	ExternalCalls []llm.ToolCall
	Usage         llm.TokenUsage
	// Iterations counts tool dispatch rounds.
	Iterations int
	// ModelCalls counts every backend call, stabilizer retries included.
	ModelCalls int
	// ContextTokens is the estimated size of the last context sent.
	ContextTokens int
	// Forced is set if any response was accepted after the retry budget ran out.
	Forced bool
}

// Done reports whether the turn needs no follow-up from the caller.
func (r TurnResult) Done() bool {
	return r.Reason == ReasonCompleted
}
