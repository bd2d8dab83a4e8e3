// Response stabilizer: escapes repeating model output by re-sampling.
//
// Information Hiding:
// - Attempt counting and sampling escalation hidden
// - Duplicate detection against the response history hidden
// - Per-attempt tracing hidden

package agent

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/richinex/anemoi/llm"
)

// Stabilizer defaults.
const (
	DefaultAttempts           = 7
	DefaultDuplicateThreshold = 2
)

// Completer is the model call the stabilizer retries. Both llm.Provider and
// *llm.Client satisfy it.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.LLMResponse, error)
}

// StabilizedResponse is the outcome of one Stabilizer.Call.
type StabilizedResponse struct {
	Response llm.LLMResponse
	// Attempts is the number of model calls made.
	Attempts int
	// Degenerate counts the responses rejected as repeats.
	Degenerate int
	// Sampling is the sampling used for the returned response.
	Sampling llm.Sampling
	// Forced is set when every attempt was degenerate and the last response
	// was returned anyway.
	Forced bool
	// Usage sums token usage over all attempts.
	Usage llm.TokenUsage
}

// Stabilizer calls the model until it returns a response that is not a
// repeat of recent history, escalating sampling on each retry.
type Stabilizer struct {
	model      Completer
	history    *History
	attempts   int
	threshold  int
	escalation Escalation
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewStabilizer creates a stabilizer with default budget and escalation.
func NewStabilizer(model Completer, history *History) *Stabilizer {
	return &Stabilizer{
		model:      model,
		history:    history,
		attempts:   DefaultAttempts,
		threshold:  DefaultDuplicateThreshold,
		escalation: DefaultEscalation(),
		logger:     slog.Default(),
		tracer:     noop.NewTracerProvider().Tracer(""),
	}
}

// WithAttempts sets the attempt budget.
func (s *Stabilizer) WithAttempts(n int) *Stabilizer {
	if n > 0 {
		s.attempts = n
	}
	return s
}

// WithThreshold sets how many prior occurrences a fingerprint may have before
// a response counts as degenerate.
func (s *Stabilizer) WithThreshold(n int) *Stabilizer {
	if n >= 0 {
		s.threshold = n
	}
	return s
}

// WithEscalation sets the sampling escalation.
func (s *Stabilizer) WithEscalation(e Escalation) *Stabilizer {
	s.escalation = e
	return s
}

// WithLogger sets the logger.
func (s *Stabilizer) WithLogger(logger *slog.Logger) *Stabilizer {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithTracer sets the tracer used for per-attempt spans.
func (s *Stabilizer) WithTracer(tracer trace.Tracer) *Stabilizer {
	if tracer != nil {
		s.tracer = tracer
	}
	return s
}

// Call sends req, retrying with escalated sampling while the response is a
// repeat. Sampling starts from base on every call. Backend errors end the
// call immediately; callers distinguish bad requests with llm.IsBadRequest.
func (s *Stabilizer) Call(ctx context.Context, req llm.Request, base llm.Sampling) (StabilizedResponse, error) {
	var out StabilizedResponse

	for attempt := 0; attempt < s.attempts; attempt++ {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return out, err
			}
		}

		sampling := s.escalation.At(base, attempt)
		req.Sampling = sampling

		resp, err := s.attempt(ctx, req, attempt)
		out.Attempts++
		if err != nil {
			return out, err
		}
		out.Usage.Add(resp.Usage)
		out.Response = resp
		out.Sampling = sampling

		fp := Fingerprint(resp)
		if seen := s.history.Count(fp); seen > s.threshold {
			out.Degenerate++
			s.logger.DebugContext(ctx, "degenerate response, escalating sampling",
				"attempt", attempt+1,
				"seen", seen,
				"temperature", sampling.Temperature,
				"top_p", sampling.TopP)
			continue
		}

		s.history.Add(fp)
		if attempt > 0 {
			s.logger.InfoContext(ctx, "escaped repeating response", "attempt", attempt+1)
		}
		return out, nil
	}

	out.Forced = true
	s.logger.WarnContext(ctx, "retry budget exhausted, accepting repeating response",
		"attempts", out.Attempts)
	return out, nil
}

func (s *Stabilizer) attempt(ctx context.Context, req llm.Request, attempt int) (llm.LLMResponse, error) {
	ctx, span := s.tracer.Start(ctx, "stabilizer.attempt")
	defer span.End()
	span.SetAttributes(
		attribute.Int("stabilizer.attempt", attempt+1),
		attribute.Float64("llm.temperature", req.Sampling.Temperature),
	)
	return s.model.Complete(ctx, req)
}
