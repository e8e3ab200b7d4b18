package game

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultAutosaveInterval is used when NewAutosaver gets a non-positive
// interval.
const DefaultAutosaveInterval = 5 * time.Minute

// Autosaver periodically saves a [Session] when its state changed since the
// last save. All methods are safe for concurrent use.
type Autosaver struct {
	session  *Session
	interval time.Duration

	mu       sync.Mutex
	savedRev uint64
	done     chan struct{}
	stopOnce sync.Once
}

// NewAutosaver returns an Autosaver for s.
func NewAutosaver(s *Session, interval time.Duration) *Autosaver {
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	return &Autosaver{
		session:  s,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start runs the save loop in a goroutine until Stop is called or ctx is
// done.
func (a *Autosaver) Start(ctx context.Context) {
	go a.loop(ctx)
}

// Stop ends the loop. Safe to call multiple times.
func (a *Autosaver) Stop() {
	a.stopOnce.Do(func() { close(a.done) })
}

// SaveNow saves if anything changed and reports whether it wrote.
func (a *Autosaver) SaveNow(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.save(ctx)
}

func (a *Autosaver) loop(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		case <-ticker.C:
			if _, err := a.SaveNow(ctx); err != nil {
				slog.Warn("autosave failed", "err", err)
			}
		}
	}
}

// save must be called with a.mu held.
func (a *Autosaver) save(ctx context.Context) (bool, error) {
	rev := a.session.Revision()
	if rev == a.savedRev {
		return false, nil
	}
	if err := a.session.Save(ctx); err != nil {
		return false, err
	}
	a.savedRev = rev
	slog.Debug("game autosaved", "revision", rev)
	return true, nil
}
