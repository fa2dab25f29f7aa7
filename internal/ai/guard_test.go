package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingAdapter struct {
	calls int
	err   error
	delay time.Duration
}

func (c *countingAdapter) Generate(ctx context.Context, prompt string) (string, error) {
	c.calls++
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if c.err != nil {
		return "", c.err
	}
	return "{}", nil
}

func TestGuardedDoesNotRetry(t *testing.T) {
	next := &countingAdapter{err: errors.New("boom")}
	g := NewGuarded(next, GuardOptions{Name: "t-no-retry", FailureThreshold: 10}, zerolog.Nop())
	if _, err := g.Generate(context.Background(), "p"); err == nil {
		t.Fatalf("expected error")
	}
	if next.calls != 1 {
		t.Fatalf("expected exactly one call, got %d", next.calls)
	}
}

func TestGuardedOpensBreaker(t *testing.T) {
	next := &countingAdapter{err: errors.New("boom")}
	g := NewGuarded(next, GuardOptions{Name: "t-breaker", FailureThreshold: 2, OpenTimeout: time.Minute}, zerolog.Nop())
	for i := 0; i < 2; i++ {
		_, _ = g.Generate(context.Background(), "p")
	}
	_, err := g.Generate(context.Background(), "p")
	if err == nil {
		t.Fatalf("expected breaker error")
	}
	if next.calls != 2 {
		t.Fatalf("open breaker should not reach provider, calls=%d", next.calls)
	}
	if g.State() != "open" {
		t.Fatalf("expected open state, got %s", g.State())
	}
}

func TestGuardedTimeout(t *testing.T) {
	next := &countingAdapter{delay: time.Second}
	g := NewGuarded(next, GuardOptions{Name: "t-timeout", Timeout: 20 * time.Millisecond}, zerolog.Nop())
	start := time.Now()
	if _, err := g.Generate(context.Background(), "p"); err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("timeout not enforced")
	}
}
