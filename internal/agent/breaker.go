package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/wesm/dashai/internal/logging"
	"github.com/wesm/dashai/internal/metrics"
)

// BreakerConfig tunes the circuit breaker around a Runtime.
type BreakerConfig struct {
	// Failures is the number of consecutive failed runs that opens
	// the circuit.
	Failures uint32
	// Cooldown is how long the circuit stays open before a probe
	// run is let through.
	Cooldown time.Duration
}

// Breaker stops calling a failing agent for a while. Runs rejected
// by an open circuit fail with ErrCircuitOpen.
type Breaker struct {
	rt Runtime
	cb *gobreaker.CircuitBreaker[Result]
}

// NewBreaker wraps rt.
func NewBreaker(rt Runtime, cfg BreakerConfig) *Breaker {
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	metrics.AgentBreakerState.Set(float64(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
		Name:        "agent",
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		// A client hanging up or a missing agent says nothing about
		// the agent's health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, ErrAgentUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("agent circuit breaker state change")
			metrics.AgentBreakerState.Set(float64(to))
		},
	})
	return &Breaker{rt: rt, cb: cb}
}

// Run executes the wrapped runtime through the breaker.
func (b *Breaker) Run(
	ctx context.Context, task Task, onTool ToolFunc,
) (Result, error) {
	res, err := b.cb.Execute(func() (Result, error) {
		return b.rt.Run(ctx, task, onTool)
	})
	if errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Result{}, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return res, err
}

// State reports the breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
