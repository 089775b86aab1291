// Package client implements the client side of the kson protocol. A Client
// fetches envelopes and resolves them into plain values or into proxies for
// the remote objects they describe.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/achilleasa/kson"
	"github.com/achilleasa/kson/config"
	"github.com/achilleasa/kson/envelope"
	"github.com/achilleasa/kson/logging"
	"github.com/achilleasa/kson/transport"
)

var (
	// ErrWaitTimeout is returned by RemoteFuture.Wait when the caller's
	// context expires before the Future resolves. The returned error also
	// wraps the context error.
	ErrWaitTimeout = errors.New("timed out waiting for future")

	// ErrUnexpectedVariant is returned when the server answers with an
	// envelope kind that the operation cannot use.
	ErrUnexpectedVariant = errors.New("unexpected envelope variant")

	errNegativePollInterval = errors.New("poll interval cannot be negative")
)

var minPollInterval = config.DurationFlag("client/poll/min", 0)

// Client resolves kson envelopes.
//
// Unless overridden by the WithFetcher or WithTransport options, the client
// fetches through a transport obtained from kson.DefaultTransportFactory.
type Client struct {
	fetcher         Fetcher
	ownedFetcher    *TransportFetcher
	transport       transport.Provider
	registry        *envelope.Registry
	logger          logging.ServiceLogger
	middleware      []Middleware
	minPollInterval *time.Duration
}

// New creates a new client instance and applies any supplied client options.
func New(options ...Option) (*Client, error) {
	c := &Client{}

	var err error
	for _, opt := range options {
		if err = opt(c); err != nil {
			return nil, err
		}
	}

	if err = c.setDefaults(); err != nil {
		return nil, err
	}

	return c, nil
}

// setDefaults applies default settings for fields not set by a client option.
func (c *Client) setDefaults() error {
	if c.registry == nil {
		c.registry = envelope.Default
	}

	if c.logger == nil {
		c.logger = logging.NewNopLogger()
	}

	if c.fetcher == nil {
		if c.transport == nil {
			c.transport = kson.DefaultTransportFactory()
		}

		tf, err := NewTransportFetcher(c.transport, c.registry)
		if err != nil {
			return err
		}
		c.fetcher, c.ownedFetcher = tf, tf
	}

	// Global middleware runs before client-specific middleware
	instances := make([]Middleware, 0, len(globalMiddleware)+len(c.middleware))
	for _, f := range globalMiddleware {
		instances = append(instances, f())
	}
	c.middleware = append(instances, c.middleware...)

	return nil
}

// Close releases the transport connection opened by the client. Fetchers
// supplied with WithFetcher are left untouched.
func (c *Client) Close() error {
	if c.ownedFetcher == nil {
		return nil
	}
	err := c.ownedFetcher.Close()
	c.ownedFetcher = nil
	return err
}

// Resolve fetches rawURL and resolves the returned envelope.
func (c *Client) Resolve(ctx context.Context, rawURL string) (interface{}, error) {
	return c.resolveFetch(ctx, Fetch{Method: transport.MethodGet, URL: rawURL})
}

// ResolveRequest posts req to rawURL and resolves the returned envelope.
// rawURL usually carries an action query parameter.
func (c *Client) ResolveRequest(ctx context.Context, rawURL string, req *envelope.Request) (interface{}, error) {
	if req == nil {
		req = envelope.NewRequest(nil)
	}
	return c.resolveFetch(ctx, Fetch{Method: transport.MethodPost, URL: rawURL, Request: req})
}

// ResolveEnvelope resolves an already fetched envelope. rawURL is the
// location it was fetched from and is used to resolve relative URLs.
//
// A successful Response resolves to its content and a failed one to a
// *RemoteError. Service, Collection, Cursor and Future envelopes resolve to
// *RemoteService, *RemoteCollection, *RemoteCursor and *RemoteFuture
// proxies. Any other variant is returned as-is.
func (c *Client) ResolveEnvelope(rawURL string, v envelope.Variant) (interface{}, error) {
	switch env := v.(type) {
	case *envelope.Response:
		if !env.OK() {
			return nil, &RemoteError{URL: rawURL, Message: env.Error(), Code: env.Code()}
		}
		return env.Content(), nil
	case *envelope.Service:
		return &RemoteService{
			client:  c,
			url:     resolveRef(rawURL, env.URL()),
			links:   env.Links(),
			actions: env.Actions(),
		}, nil
	case *envelope.Collection:
		return &RemoteCollection{
			client: c,
			url:    resolveRef(rawURL, env.URL()),
			fields: env.FieldSpec(),
			keys:   env.Keys(),
			key:    env.Key(),
		}, nil
	case *envelope.Cursor:
		return newRemoteCursor(c, rawURL, env), nil
	case *envelope.Future:
		return &RemoteFuture{
			client: c,
			url:    resolveRef(rawURL, env.URL()),
			wait:   env.Wait(),
		}, nil
	}
	return v, nil
}

func (c *Client) resolveFetch(ctx context.Context, f Fetch) (interface{}, error) {
	v, err := c.fetchEnvelope(ctx, f)
	if err != nil {
		return nil, err
	}
	return c.ResolveEnvelope(f.URL, v)
}

// fetchEnvelope runs the middleware chain around the fetcher and decodes
// the response payload.
func (c *Client) fetchEnvelope(ctx context.Context, f Fetch) (envelope.Variant, error) {
	var err error
	for index, m := range c.middleware {
		if ctx, err = m.Pre(ctx, &f); err != nil {
			for post := index - 1; post >= 0; post-- {
				c.middleware[post].Post(ctx, f, nil, err)
			}
			return nil, err
		}
	}

	payload, err := c.fetcher.Fetch(ctx, f)

	for index := len(c.middleware) - 1; index >= 0; index-- {
		c.middleware[index].Post(ctx, f, payload, err)
	}

	if err != nil {
		return nil, err
	}
	return c.registry.Decode(payload)
}

func (c *Client) pollInterval(hint time.Duration) time.Duration {
	floor := minPollInterval.Get()
	if c.minPollInterval != nil {
		floor = *c.minPollInterval
	}
	if hint < floor {
		return floor
	}
	return hint
}

// resolveRef resolves ref relative to base. An empty ref resolves to base.
func resolveRef(base, ref string) string {
	if ref == "" {
		return base
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// withQuery returns rawURL with the supplied query parameters set.
func withQuery(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func unexpectedVariant(op, rawURL string, v interface{}) error {
	return fmt.Errorf("%w: %s %s returned %T", ErrUnexpectedVariant, op, rawURL, v)
}
