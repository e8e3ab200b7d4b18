package narrator_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/MrWong99/gameweaver/internal/narrator"
	"github.com/MrWong99/gameweaver/internal/observe"
	"github.com/MrWong99/gameweaver/pkg/provider/llm"
	llmmock "github.com/MrWong99/gameweaver/pkg/provider/llm/mock"
	"github.com/MrWong99/gameweaver/pkg/store"
	"github.com/MrWong99/gameweaver/pkg/store/memory"
	storemock "github.com/MrWong99/gameweaver/pkg/store/mock"
)

func seededHistory(t *testing.T, n int) *memory.Store {
	t.Helper()
	s := memory.New()
	for i := 1; i <= n; i++ {
		if _, err := s.Append(context.Background(), store.TypePlayerCommand, strings.Repeat("x", i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	return s
}

func TestNarrate_ReturnsCompletion(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Response: &llm.CompletionResponse{Content: "  The air grows cold.  "}}
	n := narrator.New(p, nil, narrator.Config{})

	got := n.Narrate(context.Background(), narrator.Scene{}, "I enter the crypt")
	if got != "The air grows cold." {
		t.Errorf("Narrate = %q", got)
	}

	req := p.LastRequest()
	if req.MaxTokens != narrator.DefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", req.MaxTokens, narrator.DefaultMaxTokens)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "I enter the crypt" {
		t.Errorf("Messages = %+v", req.Messages)
	}
}

func TestNarrate_FallbackOnError(t *testing.T) {
	t.Parallel()

	for _, err := range []error{
		errors.New("bad gateway"),
		fmt.Errorf("openai: chat completion: %w", llm.ErrRateLimited),
	} {
		n := narrator.New(&llmmock.Provider{Err: err}, nil, narrator.Config{})
		if got := n.Narrate(context.Background(), narrator.Scene{}, "hello"); got != narrator.DefaultFallbackLine {
			t.Errorf("Narrate with %v = %q, want fallback", err, got)
		}
	}
}

func TestNarrate_SendsClientID(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Response: &llm.CompletionResponse{Content: "Ok.", FinishReason: "length"}}
	n := narrator.New(p, nil, narrator.Config{})

	ctx := observe.WithClient(context.Background(), "client-42")
	if got := n.Narrate(ctx, narrator.Scene{}, "hi"); got != "Ok." {
		t.Errorf("Narrate = %q, want truncated reply kept", got)
	}
	if got := p.LastRequest().User; got != "client-42" {
		t.Errorf("User = %q, want client-42", got)
	}
}

func TestNarrate_NoProvider(t *testing.T) {
	t.Parallel()
	n := narrator.New(nil, nil, narrator.Config{FallbackLine: "Silence."})
	if got := n.Narrate(context.Background(), narrator.Scene{}, "hello?"); got != "Silence." {
		t.Errorf("Narrate = %q, want the fallback line", got)
	}
}

func TestNarrate_FallbackOnEmpty(t *testing.T) {
	t.Parallel()

	n := narrator.New(&llmmock.Provider{}, nil, narrator.Config{FallbackLine: "Silence."})
	if got := n.Narrate(context.Background(), narrator.Scene{}, "hello"); got != "Silence." {
		t.Errorf("Narrate = %q, want custom fallback", got)
	}
}

func TestSystemPrompt_IncludesContext(t *testing.T) {
	t.Parallel()

	hist := memory.New()
	ctx := context.Background()
	_, _ = hist.Append(ctx, store.TypeBattleStarted, "Battle started with: Goblin")
	_, _ = hist.Append(ctx, store.TypePlayerSpeech, "Player said: run!")

	n := narrator.New(&llmmock.Provider{}, hist, narrator.Config{SystemName: "Mörk Borg"})
	got := n.SystemPrompt(ctx, narrator.Scene{Name: "crypt", Players: []string{"Karg", "Sister Vex"}})

	for _, want := range []string{
		"Game Master for a Mörk Borg roleplaying game",
		"Current scene: crypt",
		"Players: Karg, Sister Vex",
		"battle_started: Battle started with: Goblin\nplayer_speech_web: Player said: run!",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestSystemPrompt_HistoryWindow(t *testing.T) {
	t.Parallel()

	n := narrator.New(&llmmock.Provider{}, seededHistory(t, 12), narrator.Config{})
	got := n.SystemPrompt(context.Background(), narrator.Scene{})

	if strings.Count(got, "player_command: ") != narrator.DefaultHistoryWindow {
		t.Errorf("history lines = %d, want %d", strings.Count(got, "player_command: "), narrator.DefaultHistoryWindow)
	}
	if strings.Contains(got, "player_command: x\n") {
		t.Error("oldest event should fall outside the window")
	}
	if !strings.Contains(got, "Players: None") || !strings.Contains(got, "Current scene: intro") {
		t.Errorf("defaults missing:\n%s", got)
	}
}

func TestSystemPrompt_HistoryFailureIgnored(t *testing.T) {
	t.Parallel()

	s := storemock.New()
	s.SetErr(errors.New("db down"))
	p := &llmmock.Provider{Response: &llm.CompletionResponse{Content: "ok"}}
	n := narrator.New(p, s, narrator.Config{})

	if got := n.Narrate(context.Background(), narrator.Scene{}, "hi"); got != "ok" {
		t.Errorf("Narrate = %q", got)
	}
	if !strings.Contains(p.LastRequest().SystemPrompt, "Recent game history:") {
		t.Error("prompt not built")
	}
}
