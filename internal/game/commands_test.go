package game_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/MrWong99/gameweaver/internal/apperr"
	"github.com/MrWong99/gameweaver/internal/bestiary"
	"github.com/MrWong99/gameweaver/internal/command"
	"github.com/MrWong99/gameweaver/internal/dice"
	"github.com/MrWong99/gameweaver/internal/game"
	"github.com/MrWong99/gameweaver/internal/hub"
	"github.com/MrWong99/gameweaver/pkg/store"
	storemock "github.com/MrWong99/gameweaver/pkg/store/mock"
)

func TestCommand_Replies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input      string
		wantPrefix string
	}{
		{"help", command.HelpText},
		{"  HELP ", command.HelpText},
		{"roll 2d6+3", "Roll Result: Rolling 2d6+3. Result: Rolls: ["},
		{"lookup monster skeleton warrior", "Monster: Skeleton Warrior"},
		{"lookup item scroll of unmaking", "Item: Scroll of Unmaking"},
		{"players", game.MsgNoPlayers},
		{"history", game.MsgNoHistory},
		{"search goblin", game.MsgNoResults},
		{"save", game.MsgSaved},
		{"voice on", game.MsgVoiceStarting},
		{"voice off", game.MsgVoiceStopping},
		{"start", game.MsgNoGame},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, game.Config{})
			got, err := f.session.Command(context.Background(), "c1", tt.input)
			if err != nil {
				t.Fatalf("Command(%q): %v", tt.input, err)
			}
			if !strings.HasPrefix(got, tt.wantPrefix) {
				t.Errorf("Command(%q) = %q, want prefix %q", tt.input, got, tt.wantPrefix)
			}
		})
	}
}

func TestCommand_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		wantKind error
		wantMsg  string
	}{
		{"", apperr.ErrValidation, "Command must not be empty."},
		{"roll", apperr.ErrValidation, dice.Usage},
		{"roll banana", apperr.ErrValidation, dice.Usage},
		{"lookup monster skeleton warior", apperr.ErrNotFound, "Monster 'skeleton warior' not found. Did you mean 'Skeleton Warrior'?"},
		{"lookup item teapot", apperr.ErrNotFound, "Item 'teapot' not found."},
		{"search", apperr.ErrValidation, "Usage: search <text>"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, game.Config{})
			_, err := f.session.Command(context.Background(), "c1", tt.input)
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("err = %v, want %v", err, tt.wantKind)
			}
			if got := apperr.Message(err); got != tt.wantMsg {
				t.Errorf("message = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestCommand_RollIsDeterministicWithSeededRoller(t *testing.T) {
	t.Parallel()
	roll := func() string {
		s := game.New(storemock.New(), &outbox{}, &fakeNarrator{}, bestiary.New(), nil, game.Config{},
			game.WithRoller(dice.NewRoller(rand.NewPCG(7, 11))))
		got, err := s.Command(context.Background(), "c1", "roll 3d8-1")
		if err != nil {
			t.Fatal(err)
		}
		return got
	}
	if a, b := roll(), roll(); a != b {
		t.Errorf("same seed gave %q and %q", a, b)
	}
}

func TestCommand_Narrate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, game.Config{})
	ctx := context.Background()
	if _, err := f.session.AddPlayer(ctx, game.Player{Name: "Ann", CharacterName: "Karg"}); err != nil {
		t.Fatal(err)
	}

	got, err := f.session.Command(ctx, "c1", "I Open The Door")
	if err != nil {
		t.Fatal(err)
	}
	if got != f.narrator.reply {
		t.Errorf("reply = %q, want %q", got, f.narrator.reply)
	}
	if f.narrator.prompts[0] != "I Open The Door" {
		t.Errorf("prompt = %q, want original casing", f.narrator.prompts[0])
	}
	scene := f.narrator.scenes[0]
	if scene.Name != "intro" || len(scene.Players) != 1 || scene.Players[0] != "Karg" {
		t.Errorf("scene = %+v", scene)
	}

	logged := f.store.AppendedOfType(store.TypePlayerCommand)
	want := "Player: I Open The Door\nGM: The crypt door creaks open."
	if len(logged) != 1 || logged[0].Description != want {
		t.Errorf("logged = %+v, want %q", logged, want)
	}
}

func TestCommand_Narrate_LogFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, game.Config{})
	f.store.SetErr(errors.New("db down"))

	got, err := f.session.Command(context.Background(), "c1", "look around")
	if err != nil || got != f.narrator.reply {
		t.Errorf("Command = %q, %v; want narration despite log failure", got, err)
	}
}

func TestCommand_StartResumesSavedGame(t *testing.T) {
	t.Parallel()
	f := newFixture(t, game.Config{})
	ctx := context.Background()
	if _, err := f.session.AddPlayer(ctx, game.Player{Name: "Ann", CharacterName: "Karg"}); err != nil {
		t.Fatal(err)
	}
	if err := f.session.Save(ctx); err != nil {
		t.Fatal(err)
	}

	fresh := game.New(f.store, &outbox{}, f.narrator, nil, nil, game.Config{})
	got, err := fresh.Command(ctx, "c1", "start")
	if err != nil {
		t.Fatal(err)
	}
	if got != f.narrator.reply {
		t.Errorf("start = %q, want intro narration", got)
	}
	if last := f.narrator.prompts[len(f.narrator.prompts)-1]; last != game.IntroPrompt {
		t.Errorf("prompt = %q, want intro prompt", last)
	}
	if started := f.store.AppendedOfType(store.TypeGameStarted); len(started) != 1 {
		t.Errorf("game_started events = %d, want 1", len(started))
	}
}

func TestCommand_PlayersHistorySearchSendToCaller(t *testing.T) {
	t.Parallel()
	f := newFixture(t, game.Config{})
	ctx := context.Background()
	if _, err := f.session.AddPlayer(ctx, game.Player{Name: "Ann", CharacterName: "Karg"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Append(ctx, store.TypePlayerCommand, "Player: attack the goblin\nGM: it flees"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		input string
		reply string
		event string
	}{
		{"players", game.MsgShowPlayers, hub.EventGameState},
		{"history", game.MsgShowHistory, hub.EventHistory},
		{"search GOBLIN", "Found 1 event(s):\n- player_command: Player: attack the goblin\nGM: it flees", hub.EventSearchResults},
	}
	for _, tt := range tests {
		got, err := f.session.Command(ctx, "c7", tt.input)
		if err != nil {
			t.Fatalf("%s: %v", tt.input, err)
		}
		if got != tt.reply {
			t.Errorf("%s reply = %q, want %q", tt.input, got, tt.reply)
		}
		if n := len(f.out.sentEvents("c7", tt.event)); n != 1 {
			t.Errorf("%s: %d %s messages sent to caller, want 1", tt.input, n, tt.event)
		}
	}
}

func TestHandle_CommandRepliesWithResponse(t *testing.T) {
	t.Parallel()
	f := newFixture(t, game.Config{})

	handle(t, f.session, game.InCommand, map[string]any{"command": "help"})
	msg := f.out.lastSend(t).msg
	data, ok := msg.Data.(hub.ResponseData)
	if msg.Event != hub.EventResponse || !ok || data.Error || data.Message != command.HelpText {
		t.Errorf("help reply = %+v", msg)
	}

	handle(t, f.session, game.InCommand, map[string]any{"command": "   "})
	msg = f.out.lastSend(t).msg
	data, ok = msg.Data.(hub.ResponseData)
	if msg.Event != hub.EventResponse || !ok || !data.Error || data.Message != "Command must not be empty." {
		t.Errorf("empty reply = %+v", msg)
	}
}
