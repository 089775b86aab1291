package client

import (
	"time"

	"github.com/achilleasa/kson/envelope"
	"github.com/achilleasa/kson/logging"
	"github.com/achilleasa/kson/transport"
)

// Option applies a configuration option to a client instance.
type Option func(c *Client) error

// WithFetcher configures the client to use a specific Fetcher. The caller
// retains ownership of f; Client.Close does not release it.
func WithFetcher(f Fetcher) Option {
	return func(c *Client) error {
		c.fetcher = f
		return nil
	}
}

// WithTransport configures the client to fetch through a specific transport
// instead of the default transport.
func WithTransport(tr transport.Provider) Option {
	return func(c *Client) error {
		c.transport = tr
		return nil
	}
}

// WithRegistry configures the registry used for decoding envelopes.
func WithRegistry(registry *envelope.Registry) Option {
	return func(c *Client) error {
		c.registry = registry
		return nil
	}
}

// WithLogger configures the client logger.
func WithLogger(logger logging.ServiceLogger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithMiddleware configures the client to use a set of client-specific middleware.
// The set of middleware will be executed after any globally defined middleware.
func WithMiddleware(factories ...MiddlewareFactory) Option {
	return func(c *Client) error {
		for _, f := range factories {
			if f == nil {
				continue
			}
			c.middleware = append(c.middleware, f())
		}
		return nil
	}
}

// WithMinPollInterval sets a lower bound for the sleep between Future polls,
// overriding the client/poll/min config value.
func WithMinPollInterval(d time.Duration) Option {
	return func(c *Client) error {
		if d < 0 {
			return errNegativePollInterval
		}
		c.minPollInterval = &d
		return nil
	}
}
