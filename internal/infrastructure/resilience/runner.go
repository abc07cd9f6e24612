package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/sgolovin/community-docs/internal/core/domain"
)

// Outcome tells the runner how to treat one failed call.
type Outcome struct {
	Retry          bool
	CountAsFailure bool
}

// Classify maps an error to its retry/breaker outcome. A nil classifier
// retries temporary domain errors and records everything else as a
// breaker failure.
type Classify func(err error) Outcome

func DefaultClassify(err error) Outcome {
	if domain.IsKind(err, domain.ErrTemporary) {
		return Outcome{Retry: true, CountAsFailure: true}
	}
	return Outcome{Retry: false, CountAsFailure: true}
}

// Runner executes outbound calls with bounded retries behind a
// per-operation circuit breaker.
type Runner struct {
	policy Policy
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewRunner(policy Policy, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		policy:   policy.normalize(),
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

func (r *Runner) Do(ctx context.Context, operation string, classify Classify, fn func(context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("resilience: nil call for operation %q", operation)
	}
	if operation == "" {
		operation = "unknown"
	}
	if classify == nil {
		classify = DefaultClassify
	}

	if !r.policy.BreakerEnabled {
		return r.retry(ctx, operation, classify, fn)
	}

	breaker := r.breaker(operation, classify)
	_, err := breaker.Execute(func() (any, error) {
		return nil, r.retry(ctx, operation, classify, fn)
	})
	return err
}

func (r *Runner) retry(ctx context.Context, operation string, classify Classify, fn func(context.Context) error) error {
	wait := r.policy.Backoff

	var err error
	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !classify(err).Retry || attempt == r.policy.Attempts {
			return err
		}

		r.logger.Warn("retrying operation",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", r.policy.Attempts,
			"backoff", wait.String(),
			"error", err,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}

		wait = time.Duration(float64(wait) * r.policy.Multiplier)
		if wait > r.policy.BackoffCap {
			wait = r.policy.BackoffCap
		}
	}
	return err
}

func (r *Runner) breaker(operation string, classify Classify) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if breaker, ok := r.breakers[operation]; ok {
		return breaker
	}

	policy := r.policy
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        operation,
		MaxRequests: policy.BreakerHalfOpenCalls,
		Timeout:     policy.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < policy.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= policy.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classify(err).CountAsFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change",
				"operation", name, "from", from.String(), "to", to.String())
		},
	})
	r.breakers[operation] = breaker
	return breaker
}

// CircuitOpen reports whether err came from an open or saturated breaker.
func CircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
