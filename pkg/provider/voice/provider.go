// Package voice defines the Provider interface for realtime voice pipelines.
//
// A voice pipeline accepts raw PCM16 microphone audio and emits a stream of
// events: synthesised speech audio, transcriptions of what the player said,
// turn lifecycle markers, and non-fatal errors. The relay coordinator owns the
// session for the duration of one voice interaction.
//
// All implementations must be safe for concurrent use.
package voice

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by [Session.SendAudio] after Close.
var ErrSessionClosed = errors.New("voice: session closed")

// EventKind discriminates [Event] values.
type EventKind int

const (
	// EventAudio carries a chunk of synthesised PCM16 audio in Audio.
	EventAudio EventKind = iota + 1
	// EventTranscription carries recognised player speech in Text.
	EventTranscription
	// EventLifecycle carries a turn marker in Lifecycle.
	EventLifecycle
	// EventError carries a non-fatal pipeline error in Err.
	EventError
)

// String returns the lower-case name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventTranscription:
		return "transcription"
	case EventLifecycle:
		return "lifecycle"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Lifecycle markers carried by [EventLifecycle] events.
const (
	TurnStarted = "turn_started"
	TurnEnded   = "turn_ended"
)

// Event is one item of a session's outbound stream.
type Event struct {
	Kind      EventKind
	Audio     []byte
	Text      string
	Lifecycle string
	Err       error
}

// SessionConfig is the initial configuration for a new session.
type SessionConfig struct {
	// Instructions is the system prompt for the voice model.
	Instructions string

	// Voice selects the synthesised voice. Empty uses the provider default.
	Voice string

	// SampleRate is the PCM16 rate of both input and output audio.
	SampleRate int
}

// Session is a live connection to a voice pipeline.
type Session interface {
	// SendAudio forwards a mono PCM16 chunk to the pipeline.
	SendAudio(chunk []byte) error

	// Events returns the outbound event stream. The channel is closed when the
	// session terminates, either through Close or because the remote end went
	// away.
	Events() <-chan Event

	// Close terminates the session. Idempotent.
	Close() error
}

// Provider opens voice sessions.
type Provider interface {
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}
