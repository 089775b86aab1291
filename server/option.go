package server

import (
	"github.com/achilleasa/kson/envelope"
	"github.com/achilleasa/kson/logging"
	"github.com/achilleasa/kson/server/futures"
	"github.com/achilleasa/kson/transport"
)

// Option applies a configuration option to a server instance.
type Option func(s *Server) error

// WithTransport configures the server to use a specific transport instead
// of the default transport.
func WithTransport(transport transport.Provider) Option {
	return func(s *Server) error {
		s.transport = transport
		return nil
	}
}

// WithRegistry configures the registry used to decode Request envelopes and
// encode responses. It defaults to envelope.Default.
func WithRegistry(registry *envelope.Registry) Option {
	return func(s *Server) error {
		s.registry = registry
		return nil
	}
}

// WithFutureStore configures where deferred invocations are parked.
func WithFutureStore(store futures.Store) Option {
	return func(s *Server) error {
		s.futures = store
		return nil
	}
}

// WithLogger configures the server logger.
func WithLogger(logger logging.ServiceLogger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithPanicHandler configures the server to use a user-defined panic handler.
func WithPanicHandler(handler PanicHandler) Option {
	return func(s *Server) error {
		s.panicHandler = handler
		return nil
	}
}

// WithMiddleware appends middleware factories that wrap the handlers of
// every mount path. If the list contains factories [f1, f2, f3] then each
// handler is defined as f1( f2( f3(dispatch) ) ). Global middleware wraps
// the resulting chain.
func WithMiddleware(factories ...MiddlewareFactory) Option {
	return func(s *Server) error {
		s.middleware = append(s.middleware, factories...)
		return nil
	}
}
