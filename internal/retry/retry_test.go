package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), Options{}, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetriesThenSucceeds(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), Options{InitialDelay: time.Millisecond}, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("got %d, %v", got, err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestExhaustionReturnsLastError(t *testing.T) {
	sentinel := errors.New("still broken")
	calls := 0
	_, err := Do(context.Background(), Options{InitialDelay: time.Millisecond}, func(context.Context) (int, error) {
		calls++
		return 0, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped last error, got %v", err)
	}
	if calls != DefaultMaxRetries {
		t.Fatalf("expected %d calls, got %d", DefaultMaxRetries, calls)
	}
}

func TestDelaysDouble(t *testing.T) {
	var gaps []time.Duration
	last := time.Now()
	calls := 0
	_, _ = Do(context.Background(), Options{InitialDelay: 10 * time.Millisecond}, func(context.Context) (int, error) {
		now := time.Now()
		if calls > 0 {
			gaps = append(gaps, now.Sub(last))
		}
		last = now
		calls++
		return 0, errors.New("nope")
	})
	if len(gaps) != 2 {
		t.Fatalf("expected 2 gaps, got %d", len(gaps))
	}
	if gaps[0] < 10*time.Millisecond || gaps[1] < 20*time.Millisecond {
		t.Fatalf("expected doubling delays, got %v", gaps)
	}
}

func TestContextCancelStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, Options{InitialDelay: time.Second}, func(context.Context) (int, error) {
		return 0, errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
