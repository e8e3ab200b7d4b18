package mcp

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/gameweaver/internal/apperr"
	"github.com/MrWong99/gameweaver/internal/battle"
	"github.com/MrWong99/gameweaver/internal/bestiary"
	"github.com/MrWong99/gameweaver/internal/dice"
	"github.com/MrWong99/gameweaver/internal/quest"
)

type fakeGame struct {
	battle  *battle.Battle
	quests  []quest.Quest
	catalog *bestiary.Catalog
	roller  *dice.Roller
}

func (g *fakeGame) BattleState() (battle.Battle, error) {
	if g.battle == nil {
		return battle.Battle{}, apperr.New(apperr.ErrInactiveBattle, "Not currently in battle.")
	}
	return *g.battle, nil
}

func (g *fakeGame) Quests() []quest.Quest      { return g.quests }
func (g *fakeGame) Catalog() *bestiary.Catalog { return g.catalog }
func (g *fakeGame) Roller() *dice.Roller       { return g.roller }

func newFakeGame() *fakeGame {
	return &fakeGame{catalog: bestiary.New(), roller: dice.NewRoller(rand.NewPCG(1, 2))}
}

func TestRollDice(t *testing.T) {
	t.Parallel()
	h := rollDice(newFakeGame())

	_, out, err := h(context.Background(), nil, RollInput{Notation: "3d6+2"})
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	if len(out.Rolls) != 3 || out.Modifier != 2 {
		t.Errorf("out = %+v", out)
	}
	sum := 0
	for _, r := range out.Rolls {
		if r < 1 || r > 6 {
			t.Errorf("roll %d out of range", r)
		}
		sum += r
	}
	if out.Total != sum+2 {
		t.Errorf("total = %d, want %d", out.Total, sum+2)
	}
	if !strings.HasPrefix(out.Text, "Rolling 3d6+2.") {
		t.Errorf("text = %q", out.Text)
	}

	if _, _, err := h(context.Background(), nil, RollInput{Notation: "lots"}); err == nil || err.Error() != dice.Usage {
		t.Errorf("invalid notation err = %v, want usage hint", err)
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()
	g := newFakeGame()

	tests := []struct {
		name           string
		kind           bestiary.Kind
		input          string
		wantFound      bool
		wantSummary    string
		wantSuggestion string
	}{
		{"monster hit", bestiary.KindMonster, "DARK CULTIST", true, "Monster: Dark Cultist", ""},
		{"monster typo", bestiary.KindMonster, "skeleton warior", false, "Monster 'skeleton warior' not found.", "Skeleton Warrior"},
		{"item hit", bestiary.KindItem, "scroll of unmaking", true, "Item: Scroll of Unmaking", ""},
		{"item miss", bestiary.KindItem, "zzz", false, "Item 'zzz' not found.", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, out, err := lookup(g, tt.kind)(context.Background(), nil, LookupInput{Name: tt.input})
			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			if out.Found != tt.wantFound {
				t.Errorf("found = %v, want %v", out.Found, tt.wantFound)
			}
			if !strings.HasPrefix(out.Summary, tt.wantSummary) {
				t.Errorf("summary = %q, want prefix %q", out.Summary, tt.wantSummary)
			}
			if out.Suggestion != tt.wantSuggestion {
				t.Errorf("suggestion = %q, want %q", out.Suggestion, tt.wantSuggestion)
			}
			if tt.wantFound && out.Entry == nil {
				t.Error("entry missing on hit")
			}
		})
	}
}

func TestBattleState(t *testing.T) {
	t.Parallel()
	g := newFakeGame()

	_, out, err := battleState(g)(context.Background(), nil, struct{}{})
	if err != nil || out.InBattle || out.Battle != nil {
		t.Errorf("inactive: out=%+v err=%v", out, err)
	}

	g.battle = &battle.Battle{ID: "b1", Active: true, CurrentTurnIndex: battle.NoTurn,
		Combatants: []battle.Combatant{{Name: "Goblin", HP: 7, MaxHP: 7, AC: 12}}}
	_, out, err = battleState(g)(context.Background(), nil, struct{}{})
	if err != nil || !out.InBattle || out.Battle.Combatants[0].Name != "Goblin" {
		t.Errorf("active: out=%+v err=%v", out, err)
	}
}

func TestQuestLog(t *testing.T) {
	t.Parallel()
	g := newFakeGame()

	_, out, err := questLog(g)(context.Background(), nil, struct{}{})
	if err != nil || out.Quests == nil || len(out.Quests) != 0 {
		t.Errorf("empty: out=%+v err=%v", out, err)
	}

	g.quests = []quest.Quest{{ID: "quest_1", Title: "Find the crypt"}}
	_, out, _ = questLog(g)(context.Background(), nil, struct{}{})
	if len(out.Quests) != 1 || out.Quests[0].ID != "quest_1" {
		t.Errorf("quests = %+v", out.Quests)
	}
}

func TestHandler_RejectsPlainGet(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(Handler(NewServer(newFakeGame(), "test")))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode < 400 {
		t.Errorf("GET without session = %d, want a client error", resp.StatusCode)
	}
}
