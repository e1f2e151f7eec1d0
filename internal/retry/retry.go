// Package retry provides the shared retry policy for calls to the embedding
// provider and the vector index: bounded attempts, exponential backoff with
// jitter, a caller-supplied classifier deciding which errors are retryable,
// and a per-operation circuit breaker.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/docpipe/docpipe/internal/log"
)

// ErrBreakerOpen reports that the circuit breaker rejected the call without
// attempting it.
var ErrBreakerOpen = errors.New("circuit breaker open")

// Classification is the classifier's verdict on one error.
type Classification struct {
	// Retryable allows another attempt after backoff.
	Retryable bool

	// RecordFailure counts the error toward tripping the breaker. Rate
	// limits are typically retryable but not breaker-worthy; connection
	// refusals are both.
	RecordFailure bool
}

// Classifier maps an error to its handling. A nil classifier treats every
// error as retryable and breaker-recorded.
type Classifier func(err error) Classification

// Policy bounds the retry behavior.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// JitterFraction randomizes each wait by ±(fraction × wait) so
	// simultaneous retries against a rate-limited provider spread out.
	JitterFraction float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

// DefaultPolicy matches the upstream providers' guidance: five attempts with
// one-second initial backoff doubling up to sixteen seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     16 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

func (p Policy) normalize() Policy {
	out := p
	def := DefaultPolicy()

	if out.MaxAttempts <= 0 {
		out.MaxAttempts = def.MaxAttempts
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = def.InitialBackoff
	}
	if out.MaxBackoff < out.InitialBackoff {
		out.MaxBackoff = out.InitialBackoff
	}
	if out.Multiplier < 1.0 {
		out.Multiplier = def.Multiplier
	}
	if out.JitterFraction < 0 || out.JitterFraction >= 1 {
		out.JitterFraction = def.JitterFraction
	}
	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}

	return out
}

// Executor applies a Policy to named operations. One breaker exists per
// operation name so a misbehaving index does not open the embedder's breaker.
//
// Executor is safe for concurrent use, though the pipeline itself runs
// sequentially.
type Executor struct {
	policy Policy
	logger log.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor. A nil logger discards retry logs.
func NewExecutor(policy Policy, logger log.Logger) *Executor {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Executor{
		policy:   policy.normalize(),
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
		sleep:    sleepCtx,
	}
}

// Do runs fn under the policy. The returned error is the last attempt's error
// (or the breaker rejection), wrapped with the operation name. Component-
// internal retries stay invisible to the caller: only the exhausted outcome
// propagates.
func (e *Executor) Do(ctx context.Context, operation string, fn func(context.Context) error, classify Classifier) error {
	if classify == nil {
		classify = func(error) Classification {
			return Classification{Retryable: true, RecordFailure: true}
		}
	}

	backoff := e.policy.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", operation, err)
		}

		err := e.run(ctx, operation, fn, classify)
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%s: %w: %v", operation, ErrBreakerOpen, err)
		}

		lastErr = err
		if !classify(err).Retryable {
			return fmt.Errorf("%s: %w", operation, err)
		}
		if attempt == e.policy.MaxAttempts {
			break
		}

		wait := e.jittered(backoff)
		e.logger.Warn("retrying after transient failure",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", e.policy.MaxAttempts,
			"backoff", wait,
			"error", err,
		)
		if sleepErr := e.sleep(ctx, wait); sleepErr != nil {
			return fmt.Errorf("%s: %w", operation, sleepErr)
		}

		backoff = time.Duration(float64(backoff) * e.policy.Multiplier)
		if backoff > e.policy.MaxBackoff {
			backoff = e.policy.MaxBackoff
		}
	}

	return fmt.Errorf("%s: attempts exhausted: %w", operation, lastErr)
}

// run executes one attempt, through the breaker when enabled.
func (e *Executor) run(ctx context.Context, operation string, fn func(context.Context) error, classify Classifier) error {
	if !e.policy.BreakerEnabled {
		return fn(ctx)
	}

	cb := e.breaker(operation, classify)
	_, err := cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func (e *Executor) breaker(operation string, classify Classifier) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[operation]; ok {
		return cb
	}

	p := e.policy
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        operation,
		MaxRequests: p.BreakerHalfOpenMaxCalls,
		Timeout:     p.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < p.BreakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= p.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return !classify(err).RecordFailure
		},
	})
	e.breakers[operation] = cb
	return cb
}

func (e *Executor) jittered(d time.Duration) time.Duration {
	if e.policy.JitterFraction == 0 {
		return d
	}
	delta := e.policy.JitterFraction * float64(d)
	// Uniform in [d-delta, d+delta].
	return time.Duration(float64(d) - delta + 2*delta*rand.Float64())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
