package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/richinex/anemoi/llm"
)

// DefaultHistoryCapacity is the number of recent fingerprints retained.
const DefaultHistoryCapacity = 64

type fingerprintCall struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

type fingerprintBody struct {
	ToolCalls     []json.RawMessage `json:"tool_calls"`
	Content       string            `json:"content"`
	FinishReasons []string          `json:"finish_reasons"`
}

// Fingerprint returns a canonical JSON digest of the meaningful parts of a
// response: the distinct tool calls by name and parsed arguments, the trimmed
// text, and the distinct finish reasons. Call IDs do not contribute, and the
// order of calls and reasons does not matter.
func Fingerprint(resp llm.LLMResponse) string {
	calls := make([]string, 0, len(resp.ToolCalls))
	seen := make(map[string]struct{}, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		var args any
		if err := json.Unmarshal(tc.Arguments, &args); err != nil {
			args = string(tc.Arguments)
		}
		// encoding/json writes map keys sorted, so this is canonical.
		raw, err := json.Marshal(fingerprintCall{Name: tc.Name, Arguments: args})
		if err != nil {
			raw, _ = json.Marshal(fingerprintCall{Name: tc.Name, Arguments: string(tc.Arguments)})
		}
		key := string(raw)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		calls = append(calls, key)
	}
	sort.Strings(calls)

	body := fingerprintBody{
		ToolCalls:     make([]json.RawMessage, len(calls)),
		Content:       strings.TrimSpace(resp.Content),
		FinishReasons: uniqueSorted(resp.FinishReasons),
	}
	for i, c := range calls {
		body.ToolCalls[i] = json.RawMessage(c)
	}

	raw, _ := json.Marshal(body)
	return string(raw)
}

func uniqueSorted(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// History is a bounded trailing window of response fingerprints, held as
// 64-bit xxhash digests. Safe for concurrent use.
type History struct {
	mu       sync.Mutex
	capacity int
	entries  []uint64
	counts   map[uint64]int
}

// NewHistory creates a history holding at most capacity fingerprints.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{
		capacity: capacity,
		counts:   make(map[uint64]int),
	}
}

// Count returns how many times fp occurs in the window.
func (h *History) Count(fp string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[xxhash.Sum64String(fp)]
}

// Add appends fp, evicting the oldest entry when full.
func (h *History) Add(fp string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) == h.capacity {
		oldest := h.entries[0]
		h.entries = h.entries[1:]
		if h.counts[oldest]--; h.counts[oldest] == 0 {
			delete(h.counts, oldest)
		}
	}
	sum := xxhash.Sum64String(fp)
	h.entries = append(h.entries, sum)
	h.counts[sum]++
}

// Len returns the number of fingerprints held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Reset empties the window.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = nil
	h.counts = make(map[uint64]int)
}

// HistoryPolicy controls when the response history is cleared.
type HistoryPolicy int

const (
	// HistoryRetain keeps fingerprints for the agent's lifetime.
	HistoryRetain HistoryPolicy = iota
	// HistoryResetEachTurn clears fingerprints at the start of every turn.
	HistoryResetEachTurn
	// HistoryResetOnReset clears fingerprints when the agent is reset.
	HistoryResetOnReset
)

// String returns the configuration name of the policy.
func (p HistoryPolicy) String() string {
	switch p {
	case HistoryResetEachTurn:
		return "reset_each_turn"
	case HistoryResetOnReset:
		return "reset_on_reset"
	default:
		return "retain"
	}
}

// ParseHistoryPolicy parses a policy name. The empty string means retain.
func ParseHistoryPolicy(s string) (HistoryPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "retain":
		return HistoryRetain, nil
	case "reset_each_turn", "each_turn":
		return HistoryResetEachTurn, nil
	case "reset_on_reset", "on_reset":
		return HistoryResetOnReset, nil
	default:
		return HistoryRetain, fmt.Errorf("unknown history policy: %s", s)
	}
}
