// Package store defines the persistence collaborator of a game session: an
// append-only event log, a small key/value state store, and event search.
//
// Backends live in sub-packages: memory (process-local), sqlite (the default,
// a single file on disk) and postgres (pgvector-backed semantic search when an
// embeddings provider is configured).
//
// All implementations must be safe for concurrent use.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event types written by the game session.
const (
	TypeBattleStarted = "battle_started"
	TypeBattleEnded   = "battle_ended"
	TypeGameStarted   = "game_started"
	TypePlayerCommand = "player_command"
	TypePlayerSpeech  = "player_speech_web"
	TypePipelineError = "pipeline_error_web"
	TypeQuestAdded    = "quest_added"
)

// Well-known state keys.
const (
	KeyGameState       = "game_state"
	KeyCharacterPrefix = "character:"
)

// Event is one entry of the event log.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// Store is the persistence collaborator.
type Store interface {
	// Append adds an event and returns its id, "event_" followed by the
	// 1-based position of the event in the log.
	Append(ctx context.Context, eventType, description string) (string, error)

	// Query returns the most recent limit events, oldest first. An empty
	// eventType matches every type; limit <= 0 returns the whole log.
	Query(ctx context.Context, limit int, eventType string) ([]Event, error)

	// Search returns up to limit events matching query, best match first.
	Search(ctx context.Context, query string, limit int) ([]Event, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Get returns the value under key. The boolean is false when absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// EventID formats the id of the n-th event.
func EventID(n int64) string {
	return "event_" + strconv.FormatInt(n, 10)
}

// ParseEventID is the inverse of [EventID].
func ParseEventID(id string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(id, "event_"), 10, 64)
	if err != nil || !strings.HasPrefix(id, "event_") || n < 1 {
		return 0, fmt.Errorf("store: malformed event id %q", id)
	}
	return n, nil
}

// ValidateEvent checks the fields passed to Append.
func ValidateEvent(eventType, description string) error {
	if strings.TrimSpace(eventType) == "" {
		return fmt.Errorf("store: event type is required")
	}
	if description == "" {
		return fmt.Errorf("store: event description is required")
	}
	return nil
}

// ValidateKey checks a state key passed to Put or Get.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("store: key is required")
	}
	return nil
}
