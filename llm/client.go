// LLMClient - wrapper around providers that adds tracing and call logging.

package llm

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/richinex/anemoi/llm"

// Client wraps a Provider with tracing and debug logging.
type Client struct {
	provider Provider
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewClient creates a new LLM client from a provider.
func NewClient(provider Provider) *Client {
	return &Client{
		provider: provider,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
}

// WithLogger sets the logger used for per-call debug records.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// Complete forwards the request to the provider inside an "llm.complete" span.
func (c *Client) Complete(ctx context.Context, req Request) (LLMResponse, error) {
	ctx, span := c.tracer.Start(ctx, "llm.complete", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", c.provider.Name()),
		attribute.String("llm.model", c.provider.Model()),
		attribute.Int("llm.messages", len(req.Messages)),
		attribute.Int("llm.tools", len(req.Tools)),
		attribute.Float64("llm.temperature", req.Sampling.Temperature),
		attribute.Float64("llm.frequency_penalty", req.Sampling.FrequencyPenalty),
		attribute.Float64("llm.top_p", req.Sampling.TopP),
	)

	start := time.Now()
	resp, err := c.provider.Complete(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.DebugContext(ctx, "llm call failed",
			"provider", c.provider.Name(), "elapsed", elapsed, "error", err)
		return LLMResponse{}, err
	}

	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int("llm.prompt_tokens", int(resp.Usage.PromptTokens)),
			attribute.Int("llm.completion_tokens", int(resp.Usage.CompletionTokens)),
		)
	}
	c.logger.DebugContext(ctx, "llm call",
		"provider", c.provider.Name(),
		"elapsed", elapsed,
		"tool_calls", len(resp.ToolCalls),
		"finish", resp.FinishReasons)
	return resp, nil
}

// Provider returns the underlying provider.
func (c *Client) Provider() Provider {
	return c.provider
}
