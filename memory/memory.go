// Package memory holds an agent's conversation and builds the bounded context
// sent to the model on every call.
//
// Information Hiding:
// - System-slot bookkeeping hidden
// - Windowing and token budgeting hidden
// - Token estimation heuristic hidden
package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/richinex/anemoi/llm"
)

var (
	// ErrNoSystemMessage is returned when the first entry is not a system message.
	ErrNoSystemMessage = errors.New("conversation has no system message")
	// ErrContextTooLarge is returned when even the minimal context exceeds the token limit.
	ErrContextTooLarge = errors.New("context exceeds token limit")
)

// Default limits.
const (
	DefaultWindow     = 60
	DefaultTokenLimit = 80000
)

// perMessageOverhead approximates role and framing tokens per message.
const perMessageOverhead = 4

// Memory is an ordered conversation whose first entry is the system message.
// Safe for concurrent use.
type Memory struct {
	mu         sync.Mutex
	messages   []llm.ChatMessage
	window     int
	tokenLimit int
}

// Option configures a Memory.
type Option func(*Memory)

// WithWindow bounds the number of non-system messages in the context.
func WithWindow(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.window = n
		}
	}
}

// WithTokenLimit bounds the estimated token size of the context.
func WithTokenLimit(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.tokenLimit = n
		}
	}
}

// New creates a memory seeded with a system message.
func New(system string, opts ...Option) *Memory {
	m := &Memory{
		messages:   []llm.ChatMessage{llm.SystemMessage(system)},
		window:     DefaultWindow,
		tokenLimit: DefaultTokenLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore creates a memory from persisted history. The first message must be
// a system message.
func Restore(history []llm.ChatMessage, opts ...Option) (*Memory, error) {
	if len(history) == 0 || history[0].Role != llm.RoleSystem {
		return nil, ErrNoSystemMessage
	}
	m := New(history[0].Content, opts...)
	m.messages = append(m.messages, history[1:]...)
	return m, nil
}

// ReplaceSystem overwrites the content of the system message in place.
func (m *Memory) ReplaceSystem(content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.messages) == 0 || m.messages[0].Role != llm.RoleSystem {
		return ErrNoSystemMessage
	}
	m.messages[0].Content = content
	return nil
}

// Append adds messages to the end of the conversation.
func (m *Memory) Append(msgs ...llm.ChatMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, msgs...)
}

// Messages returns a copy of the full conversation.
func (m *Memory) Messages() []llm.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]llm.ChatMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len returns the number of messages including the system message.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Reset drops everything but the system message.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.messages) > 1 {
		m.messages = m.messages[:1]
	}
}

// Context returns the messages to send to the model and their estimated token
// count. It keeps the system message plus the most recent window of messages,
// then drops the oldest until the estimate fits the token limit. A window never
// starts with a tool result whose assistant call was cut off.
func (m *Memory) Context() ([]llm.ChatMessage, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.messages) == 0 || m.messages[0].Role != llm.RoleSystem {
		return nil, 0, ErrNoSystemMessage
	}

	system := m.messages[0]
	rest := m.messages[1:]
	if len(rest) > m.window {
		rest = rest[len(rest)-m.window:]
	}
	rest = dropOrphanResults(rest)

	budget := m.tokenLimit - EstimateTokens(system)
	tokens := sumTokens(rest)
	for tokens > budget && len(rest) > 1 {
		rest = dropOrphanResults(rest[1:])
		tokens = sumTokens(rest)
	}
	if tokens > budget || budget < 0 {
		return nil, 0, fmt.Errorf("%w: %d tokens over a limit of %d",
			ErrContextTooLarge, tokens+EstimateTokens(system), m.tokenLimit)
	}

	out := make([]llm.ChatMessage, 0, len(rest)+1)
	out = append(out, system)
	out = append(out, rest...)
	return out, tokens + EstimateTokens(system), nil
}

func dropOrphanResults(msgs []llm.ChatMessage) []llm.ChatMessage {
	for len(msgs) > 0 && msgs[0].Role == llm.RoleTool {
		msgs = msgs[1:]
	}
	return msgs
}

func sumTokens(msgs []llm.ChatMessage) int {
	n := 0
	for _, msg := range msgs {
		n += EstimateTokens(msg)
	}
	return n
}

// EstimateTokens approximates the token size of a message at four characters
// per token.
func EstimateTokens(msg llm.ChatMessage) int {
	chars := len(msg.Content)
	for _, tc := range msg.ToolCalls {
		chars += len(tc.Name) + len(tc.Arguments)
	}
	return chars/4 + perMessageOverhead
}
