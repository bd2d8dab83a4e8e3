// Package storage provides conversation and turn-record storage.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interface
// - Allows swapping between memory and SQLite without API changes
// - Each storage implementation encapsulates its own data structures and protocols

package storage

import (
	"context"
	"time"

	"github.com/richinex/anemoi/llm"
)

// ConversationStorage defines the interface for storing conversation history.
type ConversationStorage interface {
	// Save saves conversation history for a session.
	Save(ctx context.Context, sessionID string, history []llm.ChatMessage) error

	// Load loads conversation history for a session.
	// Returns empty slice (not nil) if session doesn't exist.
	// Returns error only for storage failures (I/O errors, etc.), not missing sessions.
	Load(ctx context.Context, sessionID string) ([]llm.ChatMessage, error)

	// Delete deletes conversation history and turn records for a session.
	Delete(ctx context.Context, sessionID string) error

	// ListSessions lists all session IDs.
	ListSessions(ctx context.Context) ([]string, error)

	// Exists checks if a session exists.
	Exists(ctx context.Context, sessionID string) (bool, error)
}

// TurnStorage records the outcome of agent turns.
type TurnStorage interface {
	// RecordTurn appends a turn record.
	RecordTurn(ctx context.Context, record TurnRecord) error

	// ListTurns returns a session's turn records, oldest first.
	ListTurns(ctx context.Context, sessionID string) ([]TurnRecord, error)
}

// Storage is a backend that keeps both conversations and turn records.
type Storage interface {
	ConversationStorage
	TurnStorage
}

// TurnRecord summarizes one agent turn.
type TurnRecord struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	Agent            string    `json:"agent"`
	Reason           string    `json:"reason"`
	Iterations       int       `json:"iterations"`
	ModelCalls       int       `json:"model_calls"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	Forced           bool      `json:"forced"`
	CreatedAt        time.Time `json:"created_at"`
}
