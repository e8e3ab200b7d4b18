// Package llm defines the text-generation collaborator used for Game Master
// narration.
//
// A Provider wraps a hosted or local model API and exposes a single blocking
// completion call. Implementations must be safe for concurrent use and must
// return promptly when the context is cancelled.
package llm

import (
	"context"
	"errors"
)

// FinishReasonLength marks a reply cut off by MaxTokens.
const FinishReasonLength = "length"

// ErrRateLimited is wrapped by providers whose backend rejected a request for
// exceeding its rate limit.
var ErrRateLimited = errors.New("llm: rate limited")

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
type CompletionRequest struct {
	// SystemPrompt is sent ahead of Messages with the system role.
	SystemPrompt string

	// Messages is the ordered conversation; the last one is usually the
	// player's input.
	Messages []Message

	// MaxTokens caps the completion length. Zero uses the backend default.
	MaxTokens int

	// Temperature in [0, 2]. Zero uses the backend default.
	Temperature float64

	// User identifies the connected client to backends that track end users.
	// Empty omits it.
	User string
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	Content string

	// FinishReason is the backend's stop reason ("stop", "length", ...).
	FinishReason string

	Usage Usage
}

// Truncated reports whether the reply hit the token limit.
func (r *CompletionResponse) Truncated() bool {
	return r.FinishReason == FinishReasonLength
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
