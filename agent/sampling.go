package agent

import (
	"math"

	"github.com/richinex/anemoi/llm"
)

// Escalation describes how sampling is perturbed on each retry of a
// degenerate response. Temperature and frequency penalty share Step and
// Ceiling; top-p has its own.
type Escalation struct {
	Step        float64 `yaml:"step"`
	Ceiling     float64 `yaml:"ceiling"`
	TopPStep    float64 `yaml:"top_p_step"`
	TopPCeiling float64 `yaml:"top_p_ceiling"`
}

// DefaultEscalation returns +0.2 per attempt capped at 2.0, and +0.04 top-p
// per attempt capped at 1.0.
func DefaultEscalation() Escalation {
	return Escalation{
		Step:        0.2,
		Ceiling:     2.0,
		TopPStep:    0.04,
		TopPCeiling: 1.0,
	}
}

// At returns the sampling for attempt k (0-based). Attempt 0 is the baseline.
// Each knob is min(base + k*step, ceiling).
func (e Escalation) At(base llm.Sampling, attempt int) llm.Sampling {
	k := float64(attempt)
	return llm.Sampling{
		Temperature:      escalate(base.Temperature, k*e.Step, e.Ceiling),
		FrequencyPenalty: escalate(base.FrequencyPenalty, k*e.Step, e.Ceiling),
		TopP:             escalate(base.TopP, k*e.TopPStep, e.TopPCeiling),
	}
}

func escalate(base, delta, ceiling float64) float64 {
	// Rounded so repeated float steps log as 0.6, not 0.6000000000000001.
	v := math.Round((base+delta)*1e6) / 1e6
	return math.Min(v, ceiling)
}
