// Package circuitbreaker provides client middleware that implements the
// circuit-breaker pattern as described in https://martinfowler.com/bliki/CircuitBreaker.html.
//
// The circuit-breaker is implemented as a state-machine with three possible
// states:
//
//   - Open. In this state the circuit-breaker forwards fetches to the server
//     while also tracking fetch errors. If the number of errors exceeds
//     TripThreshold, the circuit-breaker enters the Closed state.
//
//   - Closed. While in this state, all fetches automatically fail with an error
//     without contacting the server. When entering this state, the circuit
//     breaker starts a timer that switches the circuit-breaker to the
//     Half-Open state.
//
//   - Half-Open. While in this state, the circuit-breaker will try fetching to
//     see if the server issue has been resolved. If a number of fetches can be
//     performed without an error, the circuit-breaker switches to the Open
//     state. If any of the test fetches fails, the circuit-breaker will switch
//     back to the Closed state.
//
// Circuit-breakers can be configured either using a static configuration or a
// fully dynamic configuration built on top of the flags package. They can be
// installed as client middleware or wrapped directly around a client.Fetcher.
package circuitbreaker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/achilleasa/kson/client"
	"github.com/achilleasa/kson/config/flag"
	"github.com/achilleasa/kson/transport"
)

// State represents the circuit-breaker state.
type State int8

// The possible circuit-breaker states.
const (
	Open State = iota
	Closed
	HalfOpen
)

// SingletonFactory generates a circuit-breaker middleware factory that always
// returns a singleton circuit-breaker instance using the supplied configuration.
func SingletonFactory(cfg Config) client.MiddlewareFactory {
	cb := newCircuitBreaker(cfg)
	return func() client.Middleware {
		return cb
	}
}

// Factory generates a circuit-breaker middleware factory that returns new
// circuit-breaker instances using the supplied configuration.
func Factory(cfg Config) client.MiddlewareFactory {
	return func() client.Middleware {
		return newCircuitBreaker(cfg)
	}
}

// Wrap returns a Fetcher that guards next with a new circuit-breaker.
func Wrap(next client.Fetcher, cfg Config) client.Fetcher {
	cb := newCircuitBreaker(cfg)
	return client.FetcherFunc(func(ctx context.Context, f client.Fetch) ([]byte, error) {
		ctx, err := cb.Pre(ctx, &f)
		if err != nil {
			return nil, err
		}
		payload, err := next.Fetch(ctx, f)
		cb.Post(ctx, f, payload, err)
		return payload, err
	})
}

// Ensure circuitBreaker implements client.Middleware
var _ client.Middleware = (*circuitBreaker)(nil)

type circuitBreaker struct {
	closedError     error
	tripErrors      []error
	tripThreshold   *flag.Uint32
	resetThreshold  *flag.Uint32
	coolOffPeriod   *flag.Duration
	stateChangeChan chan<- State

	mutex            sync.Mutex
	curState         State
	trippedAt        time.Time
	trackedErrors    uint32
	trackedSuccesses uint32
}

func newCircuitBreaker(cfg Config) *circuitBreaker {
	cb := &circuitBreaker{
		tripErrors:      cfg.GetTripErrors(),
		closedError:     cfg.GetClosedError(),
		tripThreshold:   cfg.GetTripThreshold(),
		resetThreshold:  cfg.GetResetThreshold(),
		coolOffPeriod:   cfg.GetCoolOffPeriod(),
		stateChangeChan: cfg.GetStateChangeChan(),
	}

	if cb.closedError == nil {
		cb.closedError = transport.ErrServiceUnavailable
	}

	if cb.tripErrors == nil {
		cb.tripErrors = DefaultTripErrors
	}

	return cb
}

// Pre implements a pre-hook as part of the client Middleware interface.
func (cb *circuitBreaker) Pre(ctx context.Context, _ *client.Fetch) (context.Context, error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.curState == Closed {
		// We cannot transition to the half-open state yet
		if time.Since(cb.trippedAt) < cb.coolOff() {
			return ctx, cb.closedError
		}

		cb.curState = HalfOpen
		cb.trackedSuccesses = 0
		cb.notify()
	}

	// Allow the call to proceed
	return ctx, nil
}

// Post implements a post-hook as part of the client Middleware interface.
func (cb *circuitBreaker) Post(_ context.Context, _ client.Fetch, _ []byte, err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch {
	case cb.curState == Open && cb.trackError(err):
		cb.trackedErrors++

		// Check if we can transition to closed state
		if cb.trackedErrors < cb.tripThreshold.Get() {
			return
		}

		cb.curState = Closed
		cb.trippedAt = time.Now()
	case cb.curState == HalfOpen && err != nil:
		// Immediately transition back to closed
		cb.curState = Closed
		cb.trippedAt = time.Now()
	case cb.curState == HalfOpen && err == nil:
		cb.trackedSuccesses++

		// Check if we can transition back to open state
		if cb.trackedSuccesses < cb.resetThreshold.Get() {
			return
		}

		cb.curState = Open
		cb.trackedErrors = 0
	default:
		return
	}

	cb.notify()
}

func (cb *circuitBreaker) coolOff() time.Duration {
	if period := cb.coolOffPeriod.Get(); period > 0 {
		return period
	}
	return DefaultCoolOffPeriod
}

// notify publishes the current state without blocking. Callers must hold
// the mutex.
func (cb *circuitBreaker) notify() {
	if cb.stateChangeChan == nil {
		return
	}
	select {
	case cb.stateChangeChan <- cb.curState:
	default:
	}
}

// trackError returns true if err should bump the tracked errors counter.
func (cb *circuitBreaker) trackError(err error) bool {
	if err == nil {
		return false
	}

	for _, tripErr := range cb.tripErrors {
		if errors.Is(err, tripErr) || strings.Contains(err.Error(), tripErr.Error()) {
			return true
		}
	}
	return false
}
