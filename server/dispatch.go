package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/achilleasa/kson/encoding/json"
	"github.com/achilleasa/kson/envelope"
	"github.com/achilleasa/kson/logging"
	"github.com/achilleasa/kson/outcome"
	"github.com/achilleasa/kson/server/futures"
	"github.com/achilleasa/kson/transport"
)

// FuturesPath is the path where the server exposes parked invocations.
const FuturesPath = envelope.FuturesPath

// Query parameters understood by the dispatcher.
const (
	QueryAction   = envelope.QueryAction
	QueryCursor   = envelope.QueryCursor
	QueryFutureID = envelope.QueryFutureID
)

// Pager is implemented by targets that can be listed page by page.
type Pager interface {
	Page(ctx context.Context, self string, query url.Values) (envelope.Variant, error)
}

// FutureURL returns the url of the Future with the given id.
func FutureURL(id string) string {
	return FuturesPath + "?" + url.Values{QueryFutureID: []string{id}}.Encode()
}

// dispatcher translates inbound requests into outbound envelopes. It holds no
// mutable state besides the futures store, which synchronizes itself.
type dispatcher struct {
	registry *envelope.Registry
	futures  futures.Store
	logger   logging.ServiceLogger
	lookup   func(path string) Target
}

// errInternal wraps err so that transports report it as an internal error.
func errInternal(err error) error {
	return fmt.Errorf("%w: %v", transport.ErrInternal, err)
}

// dispatchTarget handles a request addressed at target, mounted at path.
//
//   - GET path describes the target.
//   - GET path?cursor=<token> returns a page of a Pager target.
//   - POST path?action=<name> invokes an action with the arguments of the
//     Request envelope in the body.
//
// Requests with other methods fail with transport.ErrNotFound.
func (d *dispatcher) dispatchTarget(ctx context.Context, path string, target Target, req transport.ImmutableMessage) (envelope.Variant, error) {
	query, err := url.ParseQuery(req.Query())
	if err != nil {
		return envelope.NewErrorResponse(fmt.Sprintf("malformed query: %v", err)), nil
	}

	switch req.Method() {
	case transport.MethodGet:
		if !query.Has(QueryCursor) {
			return nonNil(target.Describe(path))
		}

		pager, isPager := target.(Pager)
		if !isPager {
			return envelope.NewErrorResponse(ErrNotPageable.Error()), nil
		}
		v, err := pager.Page(ctx, path, query)
		if err != nil {
			return nil, errInternal(err)
		}
		return nonNil(v)
	case transport.MethodPost:
		action := query.Get(QueryAction)
		if action == "" {
			return envelope.NewErrorResponse(ErrMissingAction.Error()), nil
		}

		payload, err := req.Payload()
		if err != nil {
			return nil, errInternal(err)
		}
		args, err := d.decodeArgs(payload)
		if err != nil {
			return envelope.NewErrorResponse(err.Error()), nil
		}

		return d.resolve(ctx, futures.Pending{Path: path, Action: action}, args, target.Invoke(ctx, action, args))
	}

	return nil, transport.ErrNotFound
}

// pollFuture re-invokes a parked invocation. Deferred results keep the entry
// and return a Future with the same url; any other result drops it.
func (d *dispatcher) pollFuture(ctx context.Context, req transport.ImmutableMessage) (envelope.Variant, error) {
	if req.Method() != transport.MethodGet {
		return nil, transport.ErrNotFound
	}

	query, err := url.ParseQuery(req.Query())
	if err != nil {
		return nil, transport.ErrNotFound
	}

	id := query.Get(QueryFutureID)
	pending, err := d.futures.Lookup(ctx, id)
	if errors.Is(err, futures.ErrNotFound) {
		return nil, transport.ErrNotFound
	} else if err != nil {
		return nil, errInternal(err)
	}

	target := d.lookup(pending.Path)
	if target == nil {
		if err = d.futures.Drop(ctx, id); err != nil {
			d.logger.Error("failed to drop unroutable future", err, logging.LogFields{"id": id, "path": pending.Path})
		}
		return nil, transport.ErrNotFound
	}

	var args map[string]interface{}
	if err = json.Unmarshal(pending.Args, &args); err != nil {
		return nil, errInternal(err)
	}

	result := target.Invoke(ctx, pending.Action, args)
	if result.IsDeferred() {
		return envelope.NewFuture(FutureURL(id), result.Wait()), nil
	}

	if err = d.futures.Drop(ctx, id); err != nil {
		return nil, errInternal(err)
	}
	return d.resolve(ctx, pending, args, result)
}

// resolve maps an action result to the envelope returned to the client.
// Ready values that are envelopes themselves are returned as-is.
func (d *dispatcher) resolve(ctx context.Context, pending futures.Pending, args map[string]interface{}, result outcome.Result) (envelope.Variant, error) {
	switch result.State() {
	case outcome.StateFailed:
		if errors.Is(result.Err(), ErrActionNotFound) {
			return envelope.NewCodedErrorResponse(envelope.CodeActionNotFound, result.Err().Error()), nil
		}
		return envelope.NewErrorResponse(result.Err().Error()), nil
	case outcome.StateDeferred:
		encodedArgs, err := json.Marshal(args)
		if err != nil {
			return nil, errInternal(err)
		}
		pending.Args = encodedArgs

		id, err := d.futures.Park(ctx, pending)
		if err != nil {
			return nil, errInternal(err)
		}
		return envelope.NewFuture(FutureURL(id), result.Wait()), nil
	}

	if v, isVariant := result.Value().(envelope.Variant); isVariant {
		if _, registered := d.registry.TagOf(v); registered {
			return v, nil
		}
	}
	return envelope.NewResponse(result.Value()), nil
}

// decodeArgs extracts the call arguments from a Request envelope. An empty
// body carries no arguments.
func (d *dispatcher) decodeArgs(payload []byte) (map[string]interface{}, error) {
	if len(payload) == 0 {
		return map[string]interface{}{}, nil
	}

	v, err := d.registry.Decode(payload)
	if err != nil {
		return nil, err
	}

	req, isRequest := v.(*envelope.Request)
	if !isRequest {
		return nil, ErrNotARequest
	}
	return req.Arguments(), nil
}

func nonNil(v envelope.Variant) (envelope.Variant, error) {
	if v == nil {
		return nil, errInternal(errors.New("target returned a nil envelope"))
	}
	return v, nil
}
