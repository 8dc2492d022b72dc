package extract

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a request to
// prevent hammering a failing extraction backend.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds the breaker thresholds.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures required to trip.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before half-open probing.
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of successes in half-open state
	// required to close the circuit again.
	HalfOpenMaxSuccesses uint32
}

// CircuitBreaker wraps gobreaker for provider HTTP calls. Closed passes
// requests through; after MaxFailures consecutive failures the circuit opens
// and rejects immediately; after Timeout it half-opens and probes.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreaker creates a breaker with defaults suited to a local
// provider: 3 failures to trip, 30s open, 2 successes to close.
func NewCircuitBreaker() *CircuitBreaker {
	return NewCircuitBreakerWithConfig(CircuitBreakerConfig{
		MaxFailures:          3,
		Timeout:              30 * time.Second,
		HalfOpenMaxSuccesses: 2,
	})
}

// NewCircuitBreakerWithConfig creates a breaker with custom thresholds.
func NewCircuitBreakerWithConfig(config CircuitBreakerConfig) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        "ExtractionCircuitBreaker",
		MaxRequests: config.HalfOpenMaxSuccesses,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
	}
	return &CircuitBreaker{breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker. An open circuit returns ErrCircuitOpen
// without invoking fn. Context cancellation is checked before dispatch.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result, err := cb.breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return result, nil
}

// State returns the current breaker state name for diagnostics.
func (cb *CircuitBreaker) State() string {
	return cb.breaker.State().String()
}
