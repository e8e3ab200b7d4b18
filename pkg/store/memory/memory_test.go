package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/gameweaver/pkg/store"
	"github.com/MrWong99/gameweaver/pkg/store/memory"
	"github.com/MrWong99/gameweaver/pkg/store/storetest"
)

func TestStore(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
}

func TestWithClock(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	s := memory.New(memory.WithClock(func() time.Time { return at }))
	if _, err := s.Append(context.Background(), store.TypeGameStarted, "Game started"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, _ := s.Query(context.Background(), 1, "")
	if !got[0].Timestamp.Equal(at) {
		t.Errorf("Timestamp = %v, want %v", got[0].Timestamp, at)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	_ = s.Put(ctx, "k", []byte("abc"))
	v, _, _ := s.Get(ctx, "k")
	v[0] = 'z'
	again, _, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value mutated through Get result: %q", again)
	}
}
