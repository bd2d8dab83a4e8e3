package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/richinex/anemoi/internal/llmtest"
	"github.com/richinex/anemoi/llm"
)

func TestEscalationAt(t *testing.T) {
	e := DefaultEscalation()
	base := llm.DefaultSampling()

	prev := e.At(base, 0)
	if prev != base {
		t.Fatalf("attempt 0 = %+v, want baseline %+v", prev, base)
	}
	for k := 1; k < 20; k++ {
		s := e.At(base, k)
		if s.Temperature < prev.Temperature || s.FrequencyPenalty < prev.FrequencyPenalty || s.TopP < prev.TopP {
			t.Fatalf("attempt %d decreased: %+v after %+v", k, s, prev)
		}
		if s.Temperature > 2.0 || s.FrequencyPenalty > 2.0 || s.TopP > 1.0 {
			t.Fatalf("attempt %d exceeds ceiling: %+v", k, s)
		}
		prev = s
	}

	if got := e.At(base, 3).Temperature; got != 0.6 {
		t.Errorf("temperature at attempt 3 = %v, want 0.6", got)
	}
	if got := e.At(base, 1).TopP; got != 1.0 {
		t.Errorf("top_p at attempt 1 = %v, want 1.0", got)
	}
}

func TestStabilizerAcceptsFreshResponse(t *testing.T) {
	provider := llmtest.NewScriptedProvider(llmtest.Text("hi"))
	history := NewHistory(0)
	s := NewStabilizer(provider, history)

	out, err := s.Call(context.Background(), llm.Request{}, llm.DefaultSampling())
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if out.Attempts != 1 || out.Degenerate != 0 || out.Forced {
		t.Errorf("got attempts=%d degenerate=%d forced=%v, want 1/0/false", out.Attempts, out.Degenerate, out.Forced)
	}
	if history.Len() != 1 {
		t.Errorf("history len = %d, want 1", history.Len())
	}
}

func TestStabilizerThreshold(t *testing.T) {
	provider := llmtest.NewScriptedProvider(llmtest.Text("same"))
	provider.Repeat = true
	s := NewStabilizer(provider, NewHistory(0))

	// Up to threshold prior occurrences are tolerated.
	for i := 0; i < DefaultDuplicateThreshold+1; i++ {
		out, err := s.Call(context.Background(), llm.Request{}, llm.DefaultSampling())
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if out.Attempts != 1 {
			t.Fatalf("call %d: attempts = %d, want 1", i, out.Attempts)
		}
	}
}

func TestStabilizerExhaustsBudget(t *testing.T) {
	provider := llmtest.NewScriptedProvider(llmtest.Text("stuck"))
	provider.Repeat = true

	history := NewHistory(0)
	fp := Fingerprint(llmtest.Text("stuck").Response)
	for i := 0; i < DefaultDuplicateThreshold+1; i++ {
		history.Add(fp)
	}

	s := NewStabilizer(provider, history)
	out, err := s.Call(context.Background(), llm.Request{}, llm.DefaultSampling())
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if out.Attempts != DefaultAttempts {
		t.Errorf("attempts = %d, want %d", out.Attempts, DefaultAttempts)
	}
	if !out.Forced {
		t.Error("Forced = false, want true")
	}
	if out.Response.Content != "stuck" {
		t.Errorf("content = %q, want last response", out.Response.Content)
	}
	if out.Usage.TotalTokens != 15*uint32(DefaultAttempts) {
		t.Errorf("usage = %d, want summed over attempts", out.Usage.TotalTokens)
	}

	reqs := provider.Requests()
	if len(reqs) != DefaultAttempts {
		t.Fatalf("requests = %d, want %d", len(reqs), DefaultAttempts)
	}
	for i := 1; i < len(reqs); i++ {
		prev, cur := reqs[i-1].Sampling, reqs[i].Sampling
		if cur.Temperature < prev.Temperature || cur.TopP < prev.TopP || cur.FrequencyPenalty < prev.FrequencyPenalty {
			t.Errorf("sampling decreased at attempt %d: %+v -> %+v", i+1, prev, cur)
		}
		if cur.Temperature > 2.0 || cur.TopP > 1.0 {
			t.Errorf("sampling over ceiling at attempt %d: %+v", i+1, cur)
		}
	}
	if reqs[0].Sampling != llm.DefaultSampling() {
		t.Errorf("first attempt sampling = %+v, want baseline", reqs[0].Sampling)
	}
}

func TestStabilizerEscapesOnRetry(t *testing.T) {
	provider := llmtest.NewScriptedProvider()
	provider.Next = func(n int, req llm.Request) llmtest.Response {
		if n < 2 {
			return llmtest.Text("loop")
		}
		return llmtest.Text(fmt.Sprintf("fresh at %.1f", req.Sampling.Temperature))
	}

	history := NewHistory(0)
	fp := Fingerprint(llmtest.Text("loop").Response)
	for i := 0; i < 3; i++ {
		history.Add(fp)
	}

	out, err := NewStabilizer(provider, history).Call(context.Background(), llm.Request{}, llm.DefaultSampling())
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if out.Attempts != 3 || out.Degenerate != 2 || out.Forced {
		t.Errorf("got attempts=%d degenerate=%d forced=%v, want 3/2/false", out.Attempts, out.Degenerate, out.Forced)
	}
	if out.Response.Content != "fresh at 0.4" {
		t.Errorf("content = %q", out.Response.Content)
	}
	if out.Sampling.Temperature != 0.4 {
		t.Errorf("sampling temperature = %v, want 0.4", out.Sampling.Temperature)
	}
}

func TestStabilizerBadRequestAborts(t *testing.T) {
	provider := llmtest.NewScriptedProvider(llmtest.Fail(fmt.Errorf("openai: %w", llm.ErrBadRequest)))
	provider.Repeat = true

	out, err := NewStabilizer(provider, NewHistory(0)).Call(context.Background(), llm.Request{}, llm.DefaultSampling())
	if !llm.IsBadRequest(err) {
		t.Fatalf("error = %v, want bad request", err)
	}
	if out.Attempts != 1 || provider.Calls() != 1 {
		t.Errorf("attempts = %d, calls = %d, want 1", out.Attempts, provider.Calls())
	}
}

func TestStabilizerCancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := llmtest.NewScriptedProvider()
	provider.Next = func(n int, req llm.Request) llmtest.Response {
		cancel()
		return llmtest.Text("again")
	}

	history := NewHistory(0)
	fp := Fingerprint(llmtest.Text("again").Response)
	for i := 0; i < 3; i++ {
		history.Add(fp)
	}

	out, err := NewStabilizer(provider, history).Call(ctx, llm.Request{}, llm.DefaultSampling())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if out.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", out.Attempts)
	}
}
