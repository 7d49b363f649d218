package errors

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is the normal state where requests are allowed.
	StateClosed State = iota
	// StateOpen is when the circuit is tripped and requests are blocked.
	StateOpen
	// StateHalfOpen is when the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker fails fast once a dependency has failed repeatedly.
// It wraps gobreaker with consecutive-failure tripping.
type CircuitBreaker struct {
	name         string
	maxFailures  uint32
	resetTimeout time.Duration
	halfOpenMax  uint32
	ignore       func(error) bool

	cb *gobreaker.CircuitBreaker[any]
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets the number of consecutive failures before opening.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.maxFailures = uint32(n)
		}
	}
}

// WithResetTimeout sets the time to wait before probing recovery.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if d > 0 {
			cb.resetTimeout = d
		}
	}
}

// WithIgnoredErrors marks errors that must not count as failures,
// such as caller cancellation.
func WithIgnoredErrors(ignore func(error) bool) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.ignore = ignore
	}
}

// NewCircuitBreaker creates a new circuit breaker with the given name.
// Default: 5 consecutive failures, 30 second reset timeout.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	c := &CircuitBreaker{
		name:         name,
		maxFailures:  5,
		resetTimeout: 30 * time.Second,
		halfOpenMax:  1,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: c.halfOpenMax,
		Timeout:     c.resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || (c.ignore != nil && c.ignore(err))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_state_change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return c
}

// Name returns the breaker name.
func (c *CircuitBreaker) Name() string {
	return c.name
}

// Execute runs fn if the circuit allows it. Rejections wrap ErrCircuitOpen.
func (c *CircuitBreaker) Execute(fn func() error) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return translateBreakerErr(err)
}

// State returns the current state.
func (c *CircuitBreaker) State() State {
	switch c.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// ExecuteWithResult runs fn through the breaker and returns its value.
func ExecuteWithResult[T any](c *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	out, err := c.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		return zero, translateBreakerErr(err)
	}
	v, ok := out.(T)
	if !ok {
		return zero, nil
	}
	return v, nil
}

func translateBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrCircuitOpen, err)
	}
	return err
}
