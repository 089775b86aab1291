package client

import (
	"context"
	"net/url"

	"github.com/achilleasa/kson/envelope"
	"github.com/achilleasa/kson/transport"
)

// Fetch describes one request/response cycle issued by the client.
type Fetch struct {
	// Method is transport.MethodPost when Request is set and
	// transport.MethodGet otherwise.
	Method string

	// URL is either a path with an optional query ("/svc?action=x") or an
	// absolute URL.
	URL string

	// Request holds the arguments of an action invocation.
	Request *envelope.Request
}

// Fetcher performs the transport round-trip for a Fetch and returns the raw
// response payload. Transport-level failures are returned unmodified.
type Fetcher interface {
	Fetch(ctx context.Context, f Fetch) ([]byte, error)
}

// FetcherFunc adapts an ordinary function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, f Fetch) ([]byte, error)

// Fetch calls fn(ctx, f).
func (fn FetcherFunc) Fetch(ctx context.Context, f Fetch) ([]byte, error) {
	return fn(ctx, f)
}

// TransportFetcher is a Fetcher that sends requests through a
// transport.Provider dialed in client mode.
type TransportFetcher struct {
	transport transport.Provider
	registry  *envelope.Registry
}

// NewTransportFetcher dials tr in client mode and returns a Fetcher that
// uses it. Request envelopes are encoded with registry; a nil registry
// selects envelope.Default.
func NewTransportFetcher(tr transport.Provider, registry *envelope.Registry) (*TransportFetcher, error) {
	if err := tr.Dial(transport.ModeClient); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = envelope.Default
	}
	return &TransportFetcher{transport: tr, registry: registry}, nil
}

// Fetch implements Fetcher. If ctx expires before a response arrives, Fetch
// fails with transport.ErrTimeout. It is important to note that a request
// that times out on the client side may still be executed by the server.
func (tf *TransportFetcher) Fetch(ctx context.Context, f Fetch) ([]byte, error) {
	u, err := url.Parse(f.URL)
	if err != nil {
		return nil, err
	}

	req := transport.MakeGenericMessage()
	defer req.Close()

	req.MethodField = f.Method
	req.PathField = u.Path
	req.QueryField = u.RawQuery
	if f.Request != nil {
		if req.PayloadField, err = tf.registry.Encode(f.Request); err != nil {
			return nil, err
		}
	}

	var res transport.ImmutableMessage
	select {
	case <-ctx.Done():
		return nil, transport.ErrTimeout
	case res = <-tf.transport.Request(req):
	}
	defer res.Close()

	payload, err := res.Payload()
	if err != nil {
		return nil, err
	}

	// The response message is recycled once closed
	return append([]byte(nil), payload...), nil
}

// Close releases the client-mode transport connection.
func (tf *TransportFetcher) Close() error {
	return tf.transport.Close(transport.ModeClient)
}
