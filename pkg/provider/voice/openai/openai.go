// Package openai implements voice.Provider for OpenAI's Realtime API.
//
// Audio is exchanged as base64-encoded pcm16 inside JSON events over a single
// WebSocket. Input transcription is enabled so player speech surfaces as
// transcription events.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/gameweaver/pkg/provider/voice"
)

var _ voice.Provider = (*Provider)(nil)
var _ voice.Session = (*session)(nil)

const (
	defaultModel              = "gpt-4o-realtime-preview"
	defaultBaseURL            = "wss://api.openai.com/v1/realtime"
	defaultTranscriptionModel = "whisper-1"
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the realtime model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the WebSocket endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithEventBuffer sets the capacity of the session event channel.
func WithEventBuffer(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.eventBuffer = n
		}
	}
}

// Provider implements voice.Provider for the OpenAI Realtime API.
type Provider struct {
	apiKey      string
	model       string
	baseURL     string
	eventBuffer int
}

// New creates a Provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:      apiKey,
		model:       defaultModel,
		baseURL:     defaultBaseURL,
		eventBuffer: 64,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect dials the realtime endpoint and configures the session.
func (p *Provider) Connect(ctx context.Context, cfg voice.SessionConfig) (voice.Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	// Synthesised audio deltas routinely exceed the 32 KiB default.
	conn.SetReadLimit(4 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &session{
		conn:   conn,
		events: make(chan voice.Event, p.eventBuffer),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: newSessionParams(cfg)}); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go s.receiveLoop()
	return s, nil
}

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice                   string                `json:"voice,omitempty"`
	Instructions            string                `json:"instructions,omitempty"`
	InputAudioFormat        string                `json:"input_audio_format"`
	OutputAudioFormat       string                `json:"output_audio_format"`
	InputAudioTranscription *transcriptionOptions `json:"input_audio_transcription,omitempty"`
}

type transcriptionOptions struct {
	Model string `json:"model"`
}

func newSessionParams(cfg voice.SessionConfig) sessionParams {
	return sessionParams{
		Voice:                   cfg.Voice,
		Instructions:            cfg.Instructions,
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &transcriptionOptions{Model: defaultTranscriptionModel},
	}
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type       string             `json:"type"`
	Delta      string             `json:"delta,omitempty"`
	Transcript string             `json:"transcript,omitempty"`
	Error      *serverErrorDetail `json:"error,omitempty"`
}

type session struct {
	conn   *websocket.Conn
	events chan voice.Event

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop owns the events channel and closes it on exit.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.emit(voice.Event{Kind: voice.EventError, Err: fmt.Errorf("openai: read: %w", err)})
			}
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		if out, ok := translate(&evt); ok {
			s.emit(out)
		}
	}
}

// translate maps a realtime server event to a voice event. Events the relay
// has no use for are skipped.
func translate(evt *serverEvent) (voice.Event, bool) {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return voice.Event{}, false
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(pcm) == 0 {
			return voice.Event{}, false
		}
		return voice.Event{Kind: voice.EventAudio, Audio: pcm}, true

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return voice.Event{}, false
		}
		return voice.Event{Kind: voice.EventTranscription, Text: evt.Transcript}, true

	case "response.created":
		return voice.Event{Kind: voice.EventLifecycle, Lifecycle: voice.TurnStarted}, true

	case "response.done":
		return voice.Event{Kind: voice.EventLifecycle, Lifecycle: voice.TurnEnded}, true

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		return voice.Event{Kind: voice.EventError, Err: fmt.Errorf("openai: %s", msg)}, true
	}
	return voice.Event{}, false
}

func (s *session) emit(evt voice.Event) {
	select {
	case s.events <- evt:
	case <-s.ctx.Done():
	}
}

// SendAudio appends a PCM16 chunk to the input audio buffer.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return voice.ErrSessionClosed
	}

	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
}

// Events returns the outbound event stream.
func (s *session) Events() <-chan voice.Event { return s.events }

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
