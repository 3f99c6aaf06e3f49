package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	var delays []time.Duration
	start := time.Now()
	last := start

	err := Do(context.Background(), func(context.Context) error {
		now := time.Now()
		if calls > 0 {
			delays = append(delays, now.Sub(last))
		}
		last = now
		calls++
		if calls <= 2 {
			return errors.New("transient")
		}
		return nil
	}, Options{
		MaxRetries:   3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
	})

	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if len(delays) != 2 {
		t.Fatalf("unexpected delay count: %d", len(delays))
	}
	if delays[1] < delays[0] {
		t.Fatalf("second delay (%s) shorter than first (%s)", delays[1], delays[0])
	}
	if delays[1] > 40*time.Millisecond+30*time.Millisecond {
		t.Fatalf("second delay exceeds cap: %s", delays[1])
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("bad request")
	calls := 0

	err := Do(context.Background(), func(context.Context) error {
		calls++
		return fatal
	}, Options{
		MaxRetries:   5,
		InitialDelay: time.Millisecond,
		ShouldRetry:  func(err error) bool { return false },
	})

	if !errors.Is(err, fatal) {
		t.Fatalf("expected original error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoExhaustionReturnsLastError(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")
	calls := 0

	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return first
		}
		return second
	}, Options{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
	})

	if !errors.Is(err, second) {
		t.Fatalf("expected last error, got %v", err)
	}
}

func TestDoHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func(context.Context) error {
		return errors.New("transient")
	}, Options{
		MaxRetries:   3,
		InitialDelay: time.Minute,
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
