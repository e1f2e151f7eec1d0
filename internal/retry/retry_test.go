package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docpipe/docpipe/internal/log"
)

// fastPolicy disables waiting so tests run instantly.
func fastPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
		BreakerEnabled: false,
	}
}

func newTestExecutor(p Policy) *Executor {
	e := NewExecutor(p, log.NewNop())
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

var errTransient = errors.New("transient")
var errPermanent = errors.New("permanent")

func retryTransient(err error) Classification {
	return Classification{Retryable: errors.Is(err, errTransient), RecordFailure: true}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	e := newTestExecutor(fastPolicy())

	calls := 0
	err := e.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	}, retryTransient)

	if err != nil {
		t.Fatalf("Do() = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	e := newTestExecutor(fastPolicy())

	calls := 0
	err := e.Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, retryTransient)

	if err != nil {
		t.Fatalf("Do() = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	e := newTestExecutor(fastPolicy())

	calls := 0
	err := e.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return errTransient
	}, retryTransient)

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if !errors.Is(err, errTransient) {
		t.Fatalf("error = %v, want wrapped errTransient", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 (MaxAttempts)", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	e := newTestExecutor(fastPolicy())

	calls := 0
	err := e.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return errPermanent
	}, retryTransient)

	if !errors.Is(err, errPermanent) {
		t.Fatalf("error = %v, want wrapped errPermanent", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on permanent)", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	e := NewExecutor(fastPolicy(), log.NewNop())
	// Real sleep so cancellation interrupts the wait.
	e.sleep = sleepCtx

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Do(ctx, "op", func(context.Context) error {
		return errTransient
	}, retryTransient)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestBreakerOpensAfterFailureRatio(t *testing.T) {
	p := fastPolicy()
	p.BreakerEnabled = true
	p.BreakerMinRequests = 2
	p.BreakerFailureRatio = 0.5
	p.BreakerOpenTimeout = time.Hour
	p.MaxAttempts = 10
	e := newTestExecutor(p)

	err := e.Do(context.Background(), "op", func(context.Context) error {
		return errTransient
	}, retryTransient)

	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("error = %v, want ErrBreakerOpen once breaker trips", err)
	}
}

func TestBreakerIsolatedPerOperation(t *testing.T) {
	p := fastPolicy()
	p.BreakerEnabled = true
	p.BreakerMinRequests = 2
	p.BreakerFailureRatio = 0.5
	p.BreakerOpenTimeout = time.Hour
	p.MaxAttempts = 10
	e := newTestExecutor(p)

	// Trip the breaker for "embed".
	_ = e.Do(context.Background(), "embed", func(context.Context) error {
		return errTransient
	}, retryTransient)

	// "upsert" must still execute.
	calls := 0
	err := e.Do(context.Background(), "upsert", func(context.Context) error {
		calls++
		return nil
	}, retryTransient)

	if err != nil {
		t.Fatalf("Do(upsert) = %v", err)
	}
	if calls != 1 {
		t.Fatalf("upsert calls = %d, want 1", calls)
	}
}

func TestJitteredBounds(t *testing.T) {
	p := fastPolicy()
	p.JitterFraction = 0.2
	e := newTestExecutor(p)

	base := 100 * time.Millisecond
	for range 50 {
		got := e.jittered(base)
		if got < 80*time.Millisecond || got > 120*time.Millisecond {
			t.Fatalf("jittered(%v) = %v outside ±20%%", base, got)
		}
	}
}

func TestNormalizeFillsZeroValues(t *testing.T) {
	p := Policy{}.normalize()
	def := DefaultPolicy()

	if p.MaxAttempts != def.MaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", p.MaxAttempts, def.MaxAttempts)
	}
	if p.InitialBackoff != def.InitialBackoff {
		t.Errorf("InitialBackoff = %v, want %v", p.InitialBackoff, def.InitialBackoff)
	}
	if p.Multiplier != def.Multiplier {
		t.Errorf("Multiplier = %v, want %v", p.Multiplier, def.Multiplier)
	}
}
