// Package memory provides a process-local store.Store. State is lost when the
// process exits; it backs tests and deployments without a database.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/gameweaver/pkg/store"
)

var _ store.Store = (*Store)(nil)

// Store is an in-memory store.Store. The zero value is not usable; call New.
type Store struct {
	mu     sync.RWMutex
	events []store.Event
	state  map[string][]byte
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{state: make(map[string][]byte), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Append implements store.Store.
func (s *Store) Append(_ context.Context, eventType, description string) (string, error) {
	if err := store.ValidateEvent(eventType, description); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := store.Event{
		ID:          store.EventID(int64(len(s.events) + 1)),
		Type:        eventType,
		Description: description,
		Timestamp:   s.now().UTC(),
	}
	s.events = append(s.events, ev)
	return ev.ID, nil
}

// Query implements store.Store.
func (s *Store) Query(_ context.Context, limit int, eventType string) ([]store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if eventType == "" || s.events[i].Type == eventType {
			out = append(out, s.events[i])
		}
	}
	slices.Reverse(out)
	return out, nil
}

// Search implements store.Store with a case-insensitive substring match over
// descriptions, newest first.
func (s *Store) Search(_ context.Context, query string, limit int) ([]store.Event, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if strings.Contains(strings.ToLower(s.events[i].Description), needle) {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

// Put implements store.Store.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = slices.Clone(value)
	return nil
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(v), true, nil
}

// Ping implements store.Store.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements store.Store.
func (s *Store) Close() error { return nil }
