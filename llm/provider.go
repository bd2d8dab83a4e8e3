// Package llm provides LLM provider abstractions.
//
// LLM Provider interface - the abstract interface for LLM providers.
// Each provider implementation hides:
// - API client initialization and authentication
// - Request/response format conversion
// - Sampling parameter mapping (temperature, frequency penalty, top_p)
// - Classification of request-validation failures

package llm

import (
	"context"
)

// Provider defines the abstract interface for LLM providers.
// Implementations hide provider-specific details while exposing
// a consistent interface for chat completions.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the current model being used.
	Model() string

	// Complete sends one chat completion request. The model may answer with
	// text, tool calls or both. Request-validation failures are reported as
	// errors matching ErrBadRequest.
	Complete(ctx context.Context, req Request) (LLMResponse, error)
}
