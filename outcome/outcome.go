// Package outcome models the result of invoking an action on a served
// object. An action either produced a value, asked the caller to come back
// later, or failed.
package outcome

import (
	"fmt"
	"time"
)

// State tags a Result.
type State uint8

// The supported result states.
const (
	StateReady State = iota
	StateDeferred
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateDeferred:
		return "deferred"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Result is the value returned by action handlers. The zero value is a Ready
// result with a nil value.
type Result struct {
	state State
	value interface{}
	wait  time.Duration
	err   error
}

// Ready wraps a successfully computed value.
func Ready(value interface{}) Result {
	return Result{state: StateReady, value: value}
}

// Deferred signals that the result is not available yet and that the caller
// should retry after wait. Negative waits are clamped to zero.
func Deferred(wait time.Duration) Result {
	if wait < 0 {
		wait = 0
	}
	return Result{state: StateDeferred, wait: wait}
}

// RetryLater is an alias for Deferred.
func RetryLater(wait time.Duration) Result {
	return Deferred(wait)
}

// Failed wraps an action error. A nil err is reported as a Ready result with
// a nil value.
func Failed(err error) Result {
	if err == nil {
		return Ready(nil)
	}
	return Result{state: StateFailed, err: err}
}

// From converts a conventional (value, error) pair into a Result.
func From(value interface{}, err error) Result {
	if err != nil {
		return Failed(err)
	}
	return Ready(value)
}

// State returns the result tag.
func (r Result) State() State { return r.state }

// IsReady reports whether the result carries a value.
func (r Result) IsReady() bool { return r.state == StateReady }

// IsDeferred reports whether the caller should retry later.
func (r Result) IsDeferred() bool { return r.state == StateDeferred }

// IsFailed reports whether the action failed.
func (r Result) IsFailed() bool { return r.state == StateFailed }

// Value returns the value of a Ready result.
func (r Result) Value() interface{} { return r.value }

// Wait returns the suggested backoff of a Deferred result.
func (r Result) Wait() time.Duration { return r.wait }

// Err returns the error of a Failed result.
func (r Result) Err() error { return r.err }

// String implements fmt.Stringer.
func (r Result) String() string {
	switch r.state {
	case StateDeferred:
		return fmt.Sprintf("deferred(%s)", r.wait)
	case StateFailed:
		return fmt.Sprintf("failed(%v)", r.err)
	}
	return fmt.Sprintf("ready(%v)", r.value)
}
