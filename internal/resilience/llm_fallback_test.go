package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/gameweaver/pkg/provider/llm"
	llmmock "github.com/MrWong99/gameweaver/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{Err: errors.New("rate limited")}
	backup := &llmmock.Provider{Response: &llm.CompletionResponse{Content: "The crypt is silent."}}

	f := NewLLMFallback(primary, "openai", FallbackConfig{})
	f.AddFallback("ollama", backup)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "listen"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "The crypt is silent." {
		t.Errorf("Content = %q", resp.Content)
	}
	if primary.CallCount() != 1 || backup.CallCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.CallCount(), backup.CallCount())
	}
	if got := f.Names(); len(got) != 2 || got[1] != "ollama" {
		t.Errorf("Names = %v", got)
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	t.Parallel()

	f := NewLLMFallback(&llmmock.Provider{Err: errors.New("down")}, "openai", FallbackConfig{})
	_, err := f.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}
