package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/voxbot/taskforge/internal/task"
)

// breakerRegistry manages per-task-type circuit breakers. A handler type
// that keeps failing trips its breaker, so subsequent dispatches fail fast
// instead of burning retry budget against a broken world connection.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerRegistry() *breakerRegistry {
	return &breakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// get returns the circuit breaker for the given task type, creating it on
// first use.
func (r *breakerRegistry) get(taskType string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[taskType]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        taskType,
		MaxRequests: 3,                // test requests allowed in half-open state
		Interval:    0,                // don't clear counts automatically
		Timeout:     30 * time.Second, // stay open before probing recovery
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Cancellation and timeouts are scheduling decisions, not
			// evidence the handler type is broken.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})

	r.breakers[taskType] = cb
	return cb
}

// retryDelay computes the backoff before re-queueing a task after its
// attempt-th failure, from the task's own policy with the scheduler's
// RetryDelay as the base when the policy leaves fields zero.
func retryDelay(policy task.RetryPolicy, attempt int, base time.Duration) time.Duration {
	b := backoff.NewExponentialBackOff()

	b.InitialInterval = base
	if policy.InitialDelay > 0 {
		b.InitialInterval = policy.InitialDelay
	}

	b.Multiplier = 1.0 // fixed delay unless the policy asks for growth
	if policy.Multiplier > 1.0 {
		b.Multiplier = policy.Multiplier
	}

	b.MaxInterval = b.InitialInterval * 64
	if policy.MaxDelay > 0 {
		b.MaxInterval = policy.MaxDelay
	}

	// Determinism matters more than thundering-herd protection here: a
	// single agent retries, not a fleet.
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // attempts are bounded by the queue, not by time

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
