// Package tracing provides a server middleware that wraps request handling
// in an OpenTelemetry span.
package tracing

import (
	"context"

	"github.com/achilleasa/kson/server"
	"github.com/achilleasa/kson/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name used for spans.
const TracerName = "github.com/achilleasa/kson/server"

// Factory returns a middleware factory that starts a span named
// "<METHOD> <mount path>" for every request. A nil provider selects the
// global otel TracerProvider.
func Factory(provider trace.TracerProvider) server.MiddlewareFactory {
	return func(next server.Middleware) server.Middleware {
		tp := provider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		tracer := tp.Tracer(TracerName)

		return server.MiddlewareFunc(func(ctx context.Context, req transport.ImmutableMessage, res transport.Message) {
			path, _ := ctx.Value(server.CtxFieldPath).(string)
			if path == "" {
				path = req.Path()
			}

			ctx, span := tracer.Start(ctx, req.Method()+" "+path, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()

			span.SetAttributes(
				attribute.String("kson.request.id", req.ID()),
				attribute.String("kson.request.path", req.Path()),
				attribute.String("kson.request.query", req.Query()),
			)

			next.Handle(ctx, req, res)

			if _, err := res.Payload(); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		})
	}
}
