// Package storetest holds behaviour tests shared by every store.Store backend.
package storetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/MrWong99/gameweaver/pkg/store"
)

// Factory returns a fresh, empty store. It registers its own cleanup.
type Factory func(t *testing.T) store.Store

// Run exercises the store.Store contract against newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("AppendAssignsSequentialIDs", func(t *testing.T) { testAppendIDs(t, newStore(t)) })
	t.Run("AppendValidates", func(t *testing.T) { testAppendValidates(t, newStore(t)) })
	t.Run("QueryMostRecentOldestFirst", func(t *testing.T) { testQueryWindow(t, newStore(t)) })
	t.Run("QueryFiltersByType", func(t *testing.T) { testQueryType(t, newStore(t)) })
	t.Run("SearchSubstring", func(t *testing.T) { testSearch(t, newStore(t)) })
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) {
		if err := newStore(t).Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}

func mustAppend(t *testing.T, s store.Store, typ, desc string) string {
	t.Helper()
	id, err := s.Append(context.Background(), typ, desc)
	if err != nil {
		t.Fatalf("Append(%q, %q): %v", typ, desc, err)
	}
	return id
}

func testAppendIDs(t *testing.T, s store.Store) {
	for i := 1; i <= 3; i++ {
		id := mustAppend(t, s, store.TypePlayerCommand, fmt.Sprintf("command %d", i))
		if want := store.EventID(int64(i)); id != want {
			t.Errorf("id = %q, want %q", id, want)
		}
	}
}

func testAppendValidates(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.Append(ctx, "", "x"); err == nil {
		t.Error("Append with empty type: expected error")
	}
	if _, err := s.Append(ctx, store.TypeGameStarted, ""); err == nil {
		t.Error("Append with empty description: expected error")
	}
	// Rejected appends must not consume an id.
	if id := mustAppend(t, s, store.TypeGameStarted, "ok"); id != "event_1" {
		t.Errorf("id = %q, want event_1", id)
	}
}

func testQueryWindow(t *testing.T, s store.Store) {
	for i := 1; i <= 5; i++ {
		mustAppend(t, s, store.TypePlayerCommand, fmt.Sprintf("c%d", i))
	}
	got, err := s.Query(context.Background(), 3, "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := []string{"c3", "c4", "c5"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, ev := range got {
		if ev.Description != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, ev.Description, want[i])
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("got[%d] has zero timestamp", i)
		}
	}

	all, err := s.Query(context.Background(), 0, "")
	if err != nil {
		t.Fatalf("Query all: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("Query(0) len = %d, want 5", len(all))
	}
}

func testQueryType(t *testing.T, s store.Store) {
	mustAppend(t, s, store.TypeBattleStarted, "Battle started with: Goblin")
	mustAppend(t, s, store.TypePlayerCommand, "Player: look\nGM: dark")
	mustAppend(t, s, store.TypeBattleEnded, "Battle ended")

	got, err := s.Query(context.Background(), 10, store.TypeBattleEnded)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].ID != "event_3" || got[0].Type != store.TypeBattleEnded {
		t.Errorf("got %+v, want the single battle_ended event_3", got)
	}
}

func testSearch(t *testing.T, s store.Store) {
	mustAppend(t, s, store.TypePlayerCommand, "Player: attack the Skeleton\nGM: bones rattle")
	mustAppend(t, s, store.TypePlayerCommand, "Player: open the door\nGM: it creaks")
	mustAppend(t, s, store.TypePlayerSpeech, "Player said: the skeleton falls")

	got, err := s.Search(context.Background(), "SKELETON", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (%+v)", len(got), got)
	}
	if got[0].ID != "event_3" || got[1].ID != "event_1" {
		t.Errorf("order = %s, %s; want event_3, event_1", got[0].ID, got[1].ID)
	}

	limited, err := s.Search(context.Background(), "skeleton", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited len = %d, want 1", len(limited))
	}
}

func testPutGet(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, store.KeyGameState); err != nil || ok {
		t.Fatalf("Get missing = ok %v err %v, want absent", ok, err)
	}
	if err := s.Put(ctx, store.KeyGameState, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, store.KeyGameState, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, ok, err := s.Get(ctx, store.KeyGameState)
	if err != nil || !ok {
		t.Fatalf("Get = ok %v err %v", ok, err)
	}
	if string(got) != `{"v":2}` {
		t.Errorf("value = %s, want {\"v\":2}", got)
	}
	if err := s.Put(ctx, " ", []byte("x")); err == nil {
		t.Error("Put with blank key: expected error")
	}
}
