package client

import (
	"context"
)

// Middleware is an interface implemented by objects that can be injected into
// a client's outgoing fetch flow.
//
// Pre is invoked before handing the fetch to the Fetcher. Calls to Pre may
// modify the outgoing fetch or the request context. In the latter case the
// updated context must be returned back from the call to Pre. If Pre returns
// an error the fetch is aborted and the error is returned to the caller.
//
// Post is invoked after the Fetcher returns, in reverse order, with the
// response payload or the fetch error.
type Middleware interface {
	Pre(ctx context.Context, f *Fetch) (context.Context, error)
	Post(ctx context.Context, f Fetch, payload []byte, err error)
}

// MiddlewareFactory generates a Middleware instance for a new client.
type MiddlewareFactory func() Middleware

var (
	globalMiddleware = []MiddlewareFactory{}
)

// RegisterGlobalMiddleware appends one or more MiddlewareFactory to the global
// set of middleware that is automatically executed by all clients created
// after the call.
func RegisterGlobalMiddleware(factories ...MiddlewareFactory) {
	for _, f := range factories {
		if f == nil {
			continue
		}
		globalMiddleware = append(globalMiddleware, f)
	}
}

// ClearGlobalMiddleware clears the list of global middleware.
func ClearGlobalMiddleware() {
	globalMiddleware = []MiddlewareFactory{}
}
