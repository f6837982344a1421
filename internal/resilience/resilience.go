// Package resilience wraps calls to the ExtractionProvider and
// EmbeddingProvider in a circuit breaker plus jittered retry, covering the
// transient-provider row of the error taxonomy. Relational store calls are
// not wrapped. It combines a
// gobreaker.Settings-style failure-ratio circuit breaker with exponential
// backoff-and-jitter retry gated by a Retryable predicate, generalized from
// an HTTP middleware / repository-decorator pair into a single generic
// Do(ctx, fn) helper any caller can wrap a call with.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	kgerrors "kgraph-backend/internal/errors"
)

// RetryConfig mirrors RetryConfig, trimmed to the fields this
// module actually varies (callers pick attempts // per-surface retry counts via internal/config.RetryConfig).
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFactor  float64
}

func DefaultRetryConfig(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:   maxAttempts,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// Breaker wraps a gobreaker.CircuitBreaker with the retry loop, giving every
// protected call site (ExtractionProvider.Extract, EmbeddingProvider.Embed)
// the same two-layer resilience applies
// at the transport and repository layers separately.
type Breaker struct {
	cb    *gobreaker.CircuitBreaker
	retry RetryConfig
	log   *zap.Logger
	rand  *rand.Rand
}

// New creates a named breaker, tripping when at least minRequests have been
// observed and the failure ratio is at or above failureThreshold, matching
// DefaultCircuitBreakerConfig shape.
func New(name string, failureThreshold float64, minRequests uint32, timeout time.Duration, retry RetryConfig, log *zap.Logger) *Breaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if log != nil {
				log.Warn("circuit breaker state change", zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
			}
		},
	})
	return &Breaker{cb: cb, retry: retry, log: log, rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Do executes fn through the circuit breaker, retrying with exponential
// backoff plus jitter while the error is retryable per
// internal/errors.IsRetryable and the breaker remains closed.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= b.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, err := b.cb.Execute(func() (any, error) {
			return nil, fn(ctx)
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return kgerrors.Wrap(err, "circuit breaker open")
		}
		if attempt >= b.retry.MaxAttempts || !kgerrors.IsRetryable(err) {
			break
		}

		delay := b.backoff(attempt)
		if b.log != nil {
			b.log.Warn("retrying after transient error", zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (b *Breaker) backoff(attempt int) time.Duration {
	base := float64(b.retry.InitialDelay) * math.Pow(b.retry.BackoffFactor, float64(attempt))
	if base > float64(b.retry.MaxDelay) {
		base = float64(b.retry.MaxDelay)
	}
	jitter := b.retry.JitterFactor * base * (b.rand.Float64()*2 - 1)
	d := base + jitter
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
