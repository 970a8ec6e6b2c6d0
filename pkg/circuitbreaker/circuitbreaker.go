// Package circuitbreaker implements a circuit breaker with atomic state,
// used to stop hammering a failing transport.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// State represents the state of the circuit breaker
type State int32

const (
	// StateClosed means the circuit breaker is allowing requests
	StateClosed State = iota
	// StateOpen means the circuit breaker is blocking requests
	StateOpen
	// StateHalfOpen means the circuit breaker is testing if the service has recovered
	StateHalfOpen
)

// String returns the string representation of the state
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

// ErrOpenState is returned when the circuit breaker is open
var ErrOpenState = errors.New("circuit breaker is open")

// Stats is a snapshot of breaker counters
type Stats struct {
	Requests            uint64
	TotalSuccess        uint64
	TotalFailure        uint64
	ConsecutiveFailures uint64
	State               string
}

// Breaker trips open after a run of consecutive failures, probes again
// after a cooldown, and closes after enough consecutive probe successes.
type Breaker struct {
	failureThreshold uint64
	successThreshold uint64
	cooldown         time.Duration

	// State management
	state      atomic.Int32
	generation atomic.Uint64
	openedAt   atomic.Int64

	// Statistics
	requests             atomic.Uint64
	successes            atomic.Uint64
	failures             atomic.Uint64
	consecutiveFailures  atomic.Uint64
	consecutiveSuccesses atomic.Uint64
}

// New creates a breaker. Thresholds below one are raised to one.
func New(failureThreshold, successThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	if successThreshold < 1 {
		successThreshold = 1
	}
	b := &Breaker{
		failureThreshold: uint64(failureThreshold),
		successThreshold: uint64(successThreshold),
		cooldown:         cooldown,
	}
	b.state.Store(int32(StateClosed))
	return b
}

// Execute runs fn if the breaker allows it.
func (b *Breaker) Execute(fn func() error) (err error) {
	if fn == nil {
		return errors.New("function cannot be nil")
	}
	generation, err := b.beforeRequest()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			b.afterRequest(generation, err)
		}
	}()

	err = fn()
	b.afterRequest(generation, err)
	return err
}

// GetState returns the current state name.
func (b *Breaker) GetState() string {
	return State(b.state.Load()).String()
}

// GetStats returns a snapshot of the counters.
func (b *Breaker) GetStats() Stats {
	return Stats{
		Requests:            b.requests.Load(),
		TotalSuccess:        b.successes.Load(),
		TotalFailure:        b.failures.Load(),
		ConsecutiveFailures: b.consecutiveFailures.Load(),
		State:               b.GetState(),
	}
}

func (b *Breaker) beforeRequest() (uint64, error) {
	generation := b.generation.Load()

	if State(b.state.Load()) == StateOpen {
		// After the cooldown a single caller flips to half-open.
		if time.Now().UnixNano()-b.openedAt.Load() > b.cooldown.Nanoseconds() {
			if b.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
				b.generation.Add(1)
				b.consecutiveSuccesses.Store(0)
			}
		}
		if State(b.state.Load()) == StateOpen {
			return 0, ErrOpenState
		}
	}
	b.requests.Add(1)
	return generation, nil
}

func (b *Breaker) afterRequest(generation uint64, err error) {
	// Results from a previous state generation are stale.
	if generation != b.generation.Load() && State(b.state.Load()) != StateHalfOpen {
		return
	}
	if err == nil {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

func (b *Breaker) onSuccess() {
	b.successes.Add(1)
	b.consecutiveFailures.Store(0)

	if State(b.state.Load()) == StateHalfOpen {
		if b.consecutiveSuccesses.Add(1) >= b.successThreshold {
			if b.state.CompareAndSwap(int32(StateHalfOpen), int32(StateClosed)) {
				b.generation.Add(1)
			}
		}
	}
}

func (b *Breaker) onFailure() {
	b.failures.Add(1)
	b.consecutiveSuccesses.Store(0)

	switch State(b.state.Load()) {
	case StateClosed:
		if b.consecutiveFailures.Add(1) >= b.failureThreshold {
			b.trip(int32(StateClosed))
		}
	case StateHalfOpen:
		b.consecutiveFailures.Add(1)
		b.trip(int32(StateHalfOpen))
	}
}

func (b *Breaker) trip(from int32) {
	if b.state.CompareAndSwap(from, int32(StateOpen)) {
		b.generation.Add(1)
		b.openedAt.Store(time.Now().UnixNano())
	}
}
