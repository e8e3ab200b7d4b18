// Package mock provides a store.Store test double that keeps data in memory
// and can be told to fail.
//
//	s := mock.New()
//	s.SetErr(errors.New("disk full"))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/gameweaver/pkg/store"
	"github.com/MrWong99/gameweaver/pkg/store/memory"
)

var _ store.Store = (*Store)(nil)

// Store wraps a memory store and records Append calls.
type Store struct {
	inner *memory.Store

	mu      sync.Mutex
	err     error
	pingErr error
	appends []store.Event
	closed  bool
}

// New returns an empty Store.
func New() *Store { return &Store{inner: memory.New()} }

// SetErr makes every data operation fail with err. nil restores normal
// behaviour.
func (s *Store) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// SetPingErr makes Ping fail with err.
func (s *Store) SetPingErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

func (s *Store) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Appended returns every event successfully appended, in order.
func (s *Store) Appended() []store.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Event, len(s.appends))
	copy(out, s.appends)
	return out
}

// AppendedOfType returns the appended events of one type.
func (s *Store) AppendedOfType(eventType string) []store.Event {
	var out []store.Event
	for _, ev := range s.Appended() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) Append(ctx context.Context, eventType, description string) (string, error) {
	if err := s.failure(); err != nil {
		return "", err
	}
	id, err := s.inner.Append(ctx, eventType, description)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.appends = append(s.appends, store.Event{ID: id, Type: eventType, Description: description})
	s.mu.Unlock()
	return id, nil
}

func (s *Store) Query(ctx context.Context, limit int, eventType string) ([]store.Event, error) {
	if err := s.failure(); err != nil {
		return nil, err
	}
	return s.inner.Query(ctx, limit, eventType)
}

func (s *Store) Search(ctx context.Context, query string, limit int) ([]store.Event, error) {
	if err := s.failure(); err != nil {
		return nil, err
	}
	return s.inner.Search(ctx, query, limit)
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.failure(); err != nil {
		return err
	}
	return s.inner.Put(ctx, key, value)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.failure(); err != nil {
		return nil, false, err
	}
	return s.inner.Get(ctx, key)
}

func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
