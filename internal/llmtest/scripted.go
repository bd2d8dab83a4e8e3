// Package llmtest provides deterministic llm.Provider implementations for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/richinex/anemoi/llm"
)

// Response configures one model call in a scripted sequence.
type Response struct {
	Response llm.LLMResponse
	Err      error
}

// Text is a shorthand for a plain assistant reply.
func Text(content string) Response {
	return Response{Response: llm.LLMResponse{
		Content:       content,
		FinishReasons: []string{"stop"},
		Usage:         &llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
}

// Calls is a shorthand for a reply that requests tool calls.
func Calls(calls ...llm.ToolCall) Response {
	return Response{Response: llm.LLMResponse{
		ToolCalls:     calls,
		FinishReasons: []string{"tool_calls"},
		Usage:         &llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
}

// Call builds a tool call.
func Call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: []byte(args)}
}

// Fail is a shorthand for a scripted error.
func Fail(err error) Response {
	return Response{Err: err}
}

// ScriptedProvider replays responses in order and records every request.
// When Repeat is set the last response is replayed once the script runs out.
type ScriptedProvider struct {
	mu        sync.Mutex
	index     int
	responses []Response
	requests  []llm.Request

	// Repeat replays the final response forever.
	Repeat bool
	// Next, when set, computes the response for call n (0-based) instead of
	// the script.
	Next func(n int, req llm.Request) Response
}

// NewScriptedProvider creates a provider that replays responses in order.
func NewScriptedProvider(responses ...Response) *ScriptedProvider {
	cloned := make([]Response, len(responses))
	copy(cloned, responses)
	return &ScriptedProvider{responses: cloned}
}

var _ llm.Provider = (*ScriptedProvider)(nil)

// Name returns "scripted".
func (p *ScriptedProvider) Name() string { return "scripted" }

// Model returns "scripted-model".
func (p *ScriptedProvider) Model() string { return "scripted-model" }

// Complete returns the next scripted response.
func (p *ScriptedProvider) Complete(ctx context.Context, req llm.Request) (llm.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return llm.LLMResponse{}, err
	}

	cloned := req
	cloned.Messages = append([]llm.ChatMessage(nil), req.Messages...)
	p.requests = append(p.requests, cloned)

	var current Response
	switch {
	case p.Next != nil:
		current = p.Next(p.index, req)
	case p.index < len(p.responses):
		current = p.responses[p.index]
	case p.Repeat && len(p.responses) > 0:
		current = p.responses[len(p.responses)-1]
	default:
		return llm.LLMResponse{}, fmt.Errorf("script exhausted at call %d", p.index+1)
	}
	p.index++

	if current.Err != nil {
		return llm.LLMResponse{}, current.Err
	}
	return current.Response, nil
}

// Requests returns a copy of every request received.
func (p *ScriptedProvider) Requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Request(nil), p.requests...)
}

// Calls returns the number of Complete calls made.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}
