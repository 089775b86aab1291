// Package metrics provides a server middleware that records prometheus
// request counters and latency histograms for every mounted target.
package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/achilleasa/kson/server"
	"github.com/achilleasa/kson/transport"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kson"

// Label values recorded for requests that did not produce an envelope.
const (
	OutcomeNotFound = "not_found"
	OutcomeTimeout  = "timeout"
	OutcomeError    = "error"
	OutcomeUnknown  = "unknown"
)

// Collector tracks request metrics. Its Factory method returns a
// server.MiddlewareFactory that records into it.
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	mu         sync.Mutex
	registered bool
	registerer prometheus.Registerer
}

// New creates a Collector that registers with registerer. A nil registerer
// selects prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Collector{
		registerer: registerer,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "server",
				Name:      "requests_total",
				Help:      "Total number of handled requests by mount path, method and outcome",
			},
			[]string{"path", "method", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "server",
				Name:      "request_duration_seconds",
				Help:      "Request handling latency by mount path and method",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (c *Collector) Register() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registered {
		return nil
	}

	for _, col := range []prometheus.Collector{c.requestsTotal, c.requestDuration} {
		if err := c.registerer.Register(col); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	c.registered = true
	return nil
}

// Factory returns a middleware factory recording into c. The collectors are
// registered lazily the first time the factory is applied; registration
// errors are ignored so that the middleware never prevents a server from
// starting.
func (c *Collector) Factory() server.MiddlewareFactory {
	return func(next server.Middleware) server.Middleware {
		_ = c.Register()

		return server.MiddlewareFunc(func(ctx context.Context, req transport.ImmutableMessage, res transport.Message) {
			start := time.Now()
			next.Handle(ctx, req, res)

			path, _ := ctx.Value(server.CtxFieldPath).(string)
			if path == "" {
				path = req.Path()
			}
			c.requestDuration.WithLabelValues(path, req.Method()).Observe(time.Since(start).Seconds())
			c.requestsTotal.WithLabelValues(path, req.Method(), outcomeOf(res)).Inc()
		})
	}
}

// outcomeOf returns the envelope kind recorded by the server in the
// server.HeaderKind response header or a label describing the error.
func outcomeOf(res transport.ImmutableMessage) string {
	_, err := res.Payload()
	switch {
	case errors.Is(err, transport.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, transport.ErrTimeout):
		return OutcomeTimeout
	case err != nil:
		return OutcomeError
	}

	if kind := res.Headers()[server.HeaderKind]; kind != "" {
		return kind
	}
	return OutcomeUnknown
}
