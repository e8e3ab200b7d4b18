package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecute_PrimarySuccess(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("secondary", "secondary")

	var tried []string
	got, err := Execute(context.Background(), fg, func(v string) (string, error) {
		tried = append(tried, v)
		return v + "-ok", nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "primary-ok" || len(tried) != 1 {
		t.Errorf("got %q after %v, want primary-ok after [primary]", got, tried)
	}
}

func TestExecute_Failover(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("a", "a", FallbackConfig{})
	fg.AddFallback("b", "b")

	got, err := Execute(context.Background(), fg, func(v string) (int, error) {
		if v == "a" {
			return 0, errTest
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != 7 {
		t.Errorf("got %d, want 7", got)
	}
}

func TestExecute_AllFail(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("a", "a", FallbackConfig{})
	fg.AddFallback("b", "b")

	_, err := Execute(context.Background(), fg, func(string) (int, error) { return 0, errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want wrapped errTest", err)
	}
}

func TestExecute_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("a", "a", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fg.AddFallback("b", "b")

	calls := map[string]int{}
	fn := func(v string) (string, error) {
		calls[v]++
		if v == "a" {
			return "", errTest
		}
		return v, nil
	}

	for range 3 {
		if _, err := Execute(context.Background(), fg, fn); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if calls["a"] != 1 {
		t.Errorf("primary called %d times, want 1 (breaker should open)", calls["a"])
	}
	if calls["b"] != 3 {
		t.Errorf("fallback called %d times, want 3", calls["b"])
	}
}

func TestExecute_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("a", "a", FallbackConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := Execute(ctx, fg, func(string) (int, error) { called = true; return 1, nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if called {
		t.Error("fn called with cancelled context")
	}
}

func TestNames(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup(1, "openai", FallbackConfig{})
	fg.AddFallback("ollama", 2)
	names := fg.Names()
	if len(names) != 2 || names[0] != "openai" || names[1] != "ollama" {
		t.Errorf("Names = %v", names)
	}
}
