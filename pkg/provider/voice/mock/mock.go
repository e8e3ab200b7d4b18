// Package mock provides test doubles for the voice package interfaces.
//
//	sess := mock.NewSession(8)
//	p := &mock.Provider{Session: sess}
//	sess.Emit(voice.Event{Kind: voice.EventTranscription, Text: "hello"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/gameweaver/pkg/provider/voice"
)

var _ voice.Provider = (*Provider)(nil)
var _ voice.Session = (*Session)(nil)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	Ctx context.Context
	Cfg voice.SessionConfig
}

// Provider is a mock implementation of voice.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a fresh Session.
	Session *Session

	// Sessions, when non-empty, are handed out one per Connect call before
	// falling back to Session.
	Sessions []*Session

	// ConnectErr, if non-nil, is returned by Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg voice.SessionConfig) (voice.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if len(p.Sessions) > 0 {
		next := p.Sessions[0]
		p.Sessions = p.Sessions[1:]
		return next, nil
	}
	if p.Session == nil {
		p.Session = NewSession(64)
	}
	return p.Session, nil
}

// ConnectCount returns the number of Connect calls so far.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Session is a mock voice.Session. Tests push outbound events with Emit and
// end the stream with Finish, simulating the remote pipeline going away.
type Session struct {
	mu       sync.Mutex
	events   chan voice.Event
	sent     [][]byte
	sendErr  error
	closed   bool
	finished bool
	closes   int
	sentCh   chan struct{}
}

// NewSession creates a Session whose event channel has the given buffer.
func NewSession(buffer int) *Session {
	return &Session{
		events: make(chan voice.Event, buffer),
		sentCh: make(chan struct{}, 1024),
	}
}

// SetSendErr makes subsequent SendAudio calls fail with err.
func (s *Session) SetSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// SendAudio records the chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return voice.ErrSessionClosed
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, append([]byte(nil), chunk...))
	select {
	case s.sentCh <- struct{}{}:
	default:
	}
	return nil
}

// Sent returns a copy of every chunk passed to SendAudio.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// SentNotify receives a value after each successful SendAudio.
func (s *Session) SentNotify() <-chan struct{} { return s.sentCh }

// Emit pushes evt onto the event stream. It is a no-op once the stream has
// ended.
func (s *Session) Emit(evt voice.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.events <- evt
}

// Finish closes the event stream.
func (s *Session) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked()
}

func (s *Session) finishLocked() {
	if !s.finished {
		s.finished = true
		close(s.events)
	}
}

// Events returns the event stream.
func (s *Session) Events() <-chan voice.Event { return s.events }

// Close ends the event stream and counts the call. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.closed = true
	s.finishLocked()
	return nil
}

// CloseCount returns how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
