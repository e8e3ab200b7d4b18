package battle_test

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/MrWong99/gameweaver/internal/apperr"
	"github.com/MrWong99/gameweaver/internal/battle"
)

func newManager() *battle.Manager {
	return battle.NewManager(battle.WithIDGenerator(func() string { return "battle-1" }))
}

func startParty(t *testing.T, m *battle.Manager) battle.Battle {
	t.Helper()
	b, err := m.Start([]battle.Combatant{
		{Name: "Goblin", HP: 7, AC: 12},
		{Name: "Orc", HP: 15, MaxHP: 20, AC: 13},
		{Name: "Aria", HP: 22, AC: 15},
	})
	if err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}
	return b
}

func activeCount(b battle.Battle) int {
	n := 0
	for _, c := range b.Combatants {
		if c.IsActiveTurn {
			n++
		}
	}
	return n
}

func TestStart(t *testing.T) {
	t.Parallel()

	m := newManager()
	b := startParty(t, m)

	if b.ID != "battle-1" {
		t.Errorf("ID = %q, want %q", b.ID, "battle-1")
	}
	if !b.Active {
		t.Error("Active = false, want true")
	}
	if b.CurrentTurnIndex != battle.NoTurn {
		t.Errorf("CurrentTurnIndex = %d, want %d", b.CurrentTurnIndex, battle.NoTurn)
	}
	if got := b.Combatants[0].MaxHP; got != 7 {
		t.Errorf("Goblin MaxHP = %d, want 7 (defaulted from HP)", got)
	}
	if got := b.Combatants[1].MaxHP; got != 20 {
		t.Errorf("Orc MaxHP = %d, want 20", got)
	}
	if !m.InBattle() {
		t.Error("InBattle = false, want true")
	}
}

func TestStart_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		roster []battle.Combatant
	}{
		{name: "empty roster", roster: nil},
		{name: "blank name", roster: []battle.Combatant{{Name: "  ", HP: 3}}},
		{name: "duplicate name", roster: []battle.Combatant{{Name: "Rat"}, {Name: "Rat"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := newManager()
			_, err := m.Start(tt.roster)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("Start: got %v, want ErrValidation", err)
			}
			if m.InBattle() {
				t.Error("InBattle = true after failed start")
			}
		})
	}
}

func TestStart_ConflictLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	m := newManager()
	startParty(t, m)
	if _, err := m.AdvanceTurn("Orc"); err != nil {
		t.Fatalf("AdvanceTurn: %v", err)
	}
	before, _ := m.State()

	_, err := m.Start([]battle.Combatant{{Name: "Dragon", HP: 200}})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("Start: got %v, want ErrConflict", err)
	}

	after, _ := m.State()
	if !reflect.DeepEqual(before, after) {
		t.Errorf("state changed on conflict:\n before %+v\n after  %+v", before, after)
	}
}

func TestScenario_GoblinTurnAndHP(t *testing.T) {
	t.Parallel()

	m := newManager()
	if _, err := m.Start([]battle.Combatant{{Name: "Goblin", HP: 7, AC: 12}}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	b, err := m.AdvanceTurn("Goblin")
	if err != nil {
		t.Fatalf("AdvanceTurn: %v", err)
	}
	if !b.Combatants[0].IsActiveTurn || b.CurrentTurnIndex != 0 {
		t.Fatalf("after AdvanceTurn: active=%v index=%d, want true/0",
			b.Combatants[0].IsActiveTurn, b.CurrentTurnIndex)
	}

	b, err = m.UpdateHP("Goblin", 0)
	if err != nil {
		t.Fatalf("UpdateHP: %v", err)
	}
	if got := b.Combatants[0].HP; got != 0 {
		t.Errorf("HP = %d, want 0", got)
	}

	_, err = m.UpdateHP("Orc", 5)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("UpdateHP(Orc): got %v, want ErrNotFound", err)
	}
	b, _ = m.State()
	if got := b.Combatants[0].HP; got != 0 {
		t.Errorf("Goblin HP after failed update = %d, want 0", got)
	}
}

func TestUpdateHP_NoClamping(t *testing.T) {
	t.Parallel()

	m := newManager()
	startParty(t, m)

	for _, hp := range []int{-12, 999} {
		b, err := m.UpdateHP("Goblin", hp)
		if err != nil {
			t.Fatalf("UpdateHP(%d): %v", hp, err)
		}
		if got := b.Combatants[0].HP; got != hp {
			t.Errorf("HP = %d, want %d", got, hp)
		}
	}
}

func TestUpdateHP_CaseSensitive(t *testing.T) {
	t.Parallel()

	m := newManager()
	startParty(t, m)
	if _, err := m.UpdateHP("goblin", 1); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("UpdateHP(goblin): got %v, want ErrNotFound", err)
	}
}

func TestSetTarget_Exclusive(t *testing.T) {
	t.Parallel()

	m := newManager()
	startParty(t, m)

	if _, err := m.SetTarget("Goblin"); err != nil {
		t.Fatalf("SetTarget(Goblin): %v", err)
	}
	b, err := m.SetTarget("Orc")
	if err != nil {
		t.Fatalf("SetTarget(Orc): %v", err)
	}
	for _, c := range b.Combatants {
		want := c.Name == "Orc"
		if c.Targeted != want {
			t.Errorf("%s.Targeted = %v, want %v", c.Name, c.Targeted, want)
		}
	}
}

func TestSetTarget_UnknownKeepsFlags(t *testing.T) {
	t.Parallel()

	m := newManager()
	startParty(t, m)
	if _, err := m.SetTarget("Aria"); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
	before, _ := m.State()

	_, err := m.SetTarget("Nobody")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("SetTarget(Nobody): got %v, want ErrNotFound", err)
	}
	after, _ := m.State()
	if !reflect.DeepEqual(before, after) {
		t.Errorf("state changed on unknown target")
	}
}

func TestAdvanceTurn_AtMostOneActive(t *testing.T) {
	t.Parallel()

	m := newManager()
	startParty(t, m)

	for _, name := range []string{"Aria", "Goblin", "Orc", "Orc", "Aria"} {
		b, err := m.AdvanceTurn(name)
		if err != nil {
			t.Fatalf("AdvanceTurn(%s): %v", name, err)
		}
		if got := activeCount(b); got != 1 {
			t.Fatalf("after AdvanceTurn(%s): %d active, want 1", name, got)
		}
		if b.Combatants[b.CurrentTurnIndex].Name != name {
			t.Errorf("current = %s, want %s", b.Combatants[b.CurrentTurnIndex].Name, name)
		}
	}
}

func TestAdvanceTurn_UnknownClearsTurn(t *testing.T) {
	t.Parallel()

	m := newManager()
	startParty(t, m)
	if _, err := m.AdvanceTurn("Orc"); err != nil {
		t.Fatalf("AdvanceTurn: %v", err)
	}

	b, err := m.AdvanceTurn("Nobody")
	if err != nil {
		t.Fatalf("AdvanceTurn(Nobody): %v", err)
	}
	if b.CurrentTurnIndex != battle.NoTurn {
		t.Errorf("CurrentTurnIndex = %d, want %d", b.CurrentTurnIndex, battle.NoTurn)
	}
	if got := activeCount(b); got != 0 {
		t.Errorf("%d active combatants, want 0", got)
	}
}

func TestEnd(t *testing.T) {
	t.Parallel()

	m := newManager()
	startParty(t, m)

	final, err := m.End()
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if final.Active {
		t.Error("final snapshot Active = true, want false")
	}
	if len(final.Combatants) != 3 {
		t.Errorf("final roster = %d, want 3", len(final.Combatants))
	}

	checks := map[string]func() error{
		"UpdateHP":    func() error { _, err := m.UpdateHP("Goblin", 1); return err },
		"SetTarget":   func() error { _, err := m.SetTarget("Goblin"); return err },
		"AdvanceTurn": func() error { _, err := m.AdvanceTurn("Goblin"); return err },
		"End":         func() error { _, err := m.End(); return err },
		"State":       func() error { _, err := m.State(); return err },
	}
	for name, fn := range checks {
		if err := fn(); !errors.Is(err, apperr.ErrInactiveBattle) {
			t.Errorf("%s after End: got %v, want ErrInactiveBattle", name, err)
		}
	}

	if _, err := m.Start([]battle.Combatant{{Name: "Wolf", HP: 9}}); err != nil {
		t.Fatalf("Start after End: %v", err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	t.Parallel()

	m := newManager()
	b := startParty(t, m)
	b.Combatants[0].HP = 1000

	cur, _ := m.State()
	if cur.Combatants[0].HP != 7 {
		t.Errorf("manager state mutated through snapshot: HP = %d", cur.Combatants[0].HP)
	}
}

func TestRestore(t *testing.T) {
	t.Parallel()

	m := newManager()
	m.Restore(battle.Battle{
		ID:               "saved",
		Combatants:       []battle.Combatant{{Name: "Ghoul", HP: 4, MaxHP: 10, IsActiveTurn: true}},
		CurrentTurnIndex: 0,
		Active:           true,
	})
	b, err := m.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if b.ID != "saved" || b.Combatants[0].Name != "Ghoul" {
		t.Errorf("restored = %+v", b)
	}

	m.Restore(battle.Battle{})
	if m.InBattle() {
		t.Error("InBattle = true after restoring inactive snapshot")
	}
}

func TestConcurrentMutations(t *testing.T) {
	t.Parallel()

	m := newManager()
	startParty(t, m)

	names := []string{"Goblin", "Orc", "Aria"}
	var wg sync.WaitGroup
	for i := range 60 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := names[i%len(names)]
			b, err := m.AdvanceTurn(name)
			if err != nil {
				t.Errorf("AdvanceTurn: %v", err)
				return
			}
			if got := activeCount(b); got != 1 {
				t.Errorf("snapshot has %d active combatants", got)
			}
			if _, err := m.SetTarget(name); err != nil {
				t.Errorf("SetTarget: %v", err)
			}
		}()
	}
	wg.Wait()
}
