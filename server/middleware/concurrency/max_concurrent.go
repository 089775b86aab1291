// Package concurrency provides a concurrency limiting middleware that
// constrains the number of concurrent requests that can be handled by a
// mounted target.
//
// The middleware blocks incoming requests until a slot becomes available or
// a timeout expires. In the latter case, requests will fail with
// transport.ErrTimeout.
package concurrency

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/achilleasa/kson/config"
	"github.com/achilleasa/kson/config/flag"
	"github.com/achilleasa/kson/server"
	"github.com/achilleasa/kson/transport"
)

// SingletonFactory generates a concurrency limit middleware factory whose
// middleware instances share a single limiter. Use it to apply a common
// limit to several mounts; use Factory for per-mount limits.
func SingletonFactory(maxConcurrent int, timeout time.Duration) server.MiddlewareFactory {
	l := newLimiter(staticInt64(int64(maxConcurrent)), staticDuration(timeout))
	return func(next server.Middleware) server.Middleware {
		return l.wrap(next)
	}
}

// Factory generates a concurrency limit middleware factory that assigns a
// private limiter to each middleware instance.
func Factory(maxConcurrent int, timeout time.Duration) server.MiddlewareFactory {
	return func(next server.Middleware) server.Middleware {
		return newLimiter(staticInt64(int64(maxConcurrent)), staticDuration(timeout)).wrap(next)
	}
}

// DynamicFactory is like SingletonFactory but reads the limit and timeout
// from the "max_concurrent" and "timeout" keys under cfgPath in the global
// config store. Changes to the limit apply to requests that have not yet
// acquired a slot.
func DynamicFactory(cfgPath string) server.MiddlewareFactory {
	cfgPath = strings.TrimSuffix(cfgPath, "/")
	l := newLimiter(
		config.Int64Flag(cfgPath+"/max_concurrent", 0),
		config.DurationFlag(cfgPath+"/timeout", 0),
	)
	return func(next server.Middleware) server.Middleware {
		return l.wrap(next)
	}
}

type limiter struct {
	maxConcurrent *flag.Int64
	timeout       *flag.Duration

	mutex     sync.Mutex
	inFlight  int64
	freedChan chan struct{}
}

func newLimiter(maxConcurrent *flag.Int64, timeout *flag.Duration) *limiter {
	return &limiter{
		maxConcurrent: maxConcurrent,
		timeout:       timeout,
		freedChan:     make(chan struct{}),
	}
}

// acquire blocks until a slot is available, the timeout expires or ctx is
// cancelled. It returns false if no slot could be acquired.
func (l *limiter) acquire(ctx context.Context) bool {
	timer := time.NewTimer(l.timeout.Get())
	defer timer.Stop()

	for {
		l.mutex.Lock()
		if l.inFlight < l.maxConcurrent.Get() {
			l.inFlight++
			l.mutex.Unlock()
			return true
		}
		freedChan := l.freedChan
		l.mutex.Unlock()

		select {
		case <-freedChan:
		case <-l.maxConcurrent.ChangeChan():
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (l *limiter) release() {
	l.mutex.Lock()
	l.inFlight--
	close(l.freedChan)
	l.freedChan = make(chan struct{})
	l.mutex.Unlock()
}

func (l *limiter) wrap(next server.Middleware) server.Middleware {
	return server.MiddlewareFunc(func(ctx context.Context, req transport.ImmutableMessage, res transport.Message) {
		if !l.acquire(ctx) {
			res.SetPayload(nil, transport.ErrTimeout)
			return
		}

		// Make sure we release the slot even if next.Handle panics
		defer l.release()
		next.Handle(ctx, req, res)
	})
}

func staticInt64(v int64) *flag.Int64 {
	return flag.NewInt64(nil, "", v)
}

func staticDuration(v time.Duration) *flag.Duration {
	return flag.NewDuration(nil, "", v)
}
