package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/nexuslabs/nexus-rag/internal/core/domain"
)

// Outcome tells the runner what one failure means: whether the call is worth
// retrying and whether the failure should count against the circuit breaker.
type Outcome struct {
	Retry       bool
	TripBreaker bool
}

type Classify func(err error) Outcome

// ClassifyDomain maps the service's error taxonomy onto retry/breaker
// behaviour: rate limits and connection drops are transient, auth and
// bad-request failures are final, unavailable collaborators trip the breaker
// without burning retries on a dead endpoint.
func ClassifyDomain(err error) Outcome {
	switch {
	case domain.IsKind(err, domain.ErrLLMRateLimit), domain.IsKind(err, domain.ErrLLMConnection):
		return Outcome{Retry: true, TripBreaker: true}
	case domain.IsKind(err, domain.ErrSearchUnavailable), domain.IsKind(err, domain.ErrIndexUnavailable):
		return Outcome{Retry: true, TripBreaker: true}
	case domain.IsKind(err, domain.ErrLLMAuth), domain.IsKind(err, domain.ErrLLMBadRequest):
		return Outcome{Retry: false, TripBreaker: false}
	default:
		return Outcome{Retry: false, TripBreaker: true}
	}
}

// Runner wraps outbound calls with bounded exponential retry and a per
// operation circuit breaker.
type Runner struct {
	policy Policy

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewRunner(policy Policy) *Runner {
	return &Runner{
		policy:   policy.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Do executes fn under the named operation's breaker, retrying per the
// classifier. The last error is returned unwrapped so callers keep the
// domain error kind.
func (r *Runner) Do(ctx context.Context, operation string, classify Classify, fn func(context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("resilience: nil operation callback")
	}
	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = "unknown"
	}
	if classify == nil {
		classify = ClassifyDomain
	}

	if !r.policy.BreakerEnabled {
		return r.retry(ctx, operation, classify, fn)
	}

	_, err := r.breaker(operation, classify).Execute(func() (any, error) {
		return nil, r.retry(ctx, operation, classify, fn)
	})
	return err
}

func (r *Runner) retry(ctx context.Context, operation string, classify Classify, fn func(context.Context) error) error {
	wait := r.policy.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !classify(lastErr).Retry || attempt == r.policy.MaxAttempts {
			return lastErr
		}

		slog.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", r.policy.MaxAttempts,
			"backoff", wait.String(),
			"error", lastErr,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		wait = time.Duration(float64(wait) * r.policy.BackoffMultiplier)
		if wait > r.policy.MaxBackoff {
			wait = r.policy.MaxBackoff
		}
	}
	return lastErr
}

func (r *Runner) breaker(operation string, classify Classify) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[operation]; ok {
		return b
	}

	b := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        operation,
		MaxRequests: r.policy.BreakerHalfOpenCalls,
		Timeout:     r.policy.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < r.policy.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= r.policy.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classify(err).TripBreaker
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	})
	r.breakers[operation] = b
	return b
}

// Open reports whether the error came from an open or saturated breaker.
func Open(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
