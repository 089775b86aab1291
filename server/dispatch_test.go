package server

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/achilleasa/kson/envelope"
	"github.com/achilleasa/kson/logging"
	"github.com/achilleasa/kson/outcome"
	"github.com/achilleasa/kson/server/futures"
	"github.com/achilleasa/kson/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func greeter() *Service {
	return &Service{
		Links: map[string]string{"self": "/greeter", "docs": "/docs"},
		Actions: map[string]Action{
			"greet": {
				Args: map[string]interface{}{"name": "string"},
				Handler: func(_ context.Context, args map[string]interface{}) outcome.Result {
					return outcome.Ready("hello " + args["name"].(string))
				},
			},
			"fail": {
				Handler: func(_ context.Context, _ map[string]interface{}) outcome.Result {
					return outcome.Failed(errors.New("nope"))
				},
			},
			"nested": {
				Handler: func(_ context.Context, _ map[string]interface{}) outcome.Result {
					return outcome.Ready(envelope.NewService("/child", nil, nil))
				},
			},
		},
	}
}

func TestDescribeService(t *testing.T) {
	srv, tr := newTestServer(t)
	require.NoError(t, srv.Mount("/greeter", greeter()))
	serve(t, srv)

	v, err := do(t, tr, transport.MethodGet, "/greeter", nil)
	require.NoError(t, err)

	svc, ok := v.(*envelope.Service)
	require.True(t, ok, "expected a Service envelope; got %T", v)
	assert.Equal(t, "/greeter", svc.URL())
	assert.Equal(t, map[string]string{"self": "/greeter", "docs": "/docs"}, svc.Links())
	assert.Equal(t, []string{"fail", "greet", "nested"}, svc.ActionNames())
	assert.Equal(t, map[string]interface{}{"name": "string"}, svc.Actions()["greet"])
}

func TestInvokeAction(t *testing.T) {
	srv, tr := newTestServer(t)
	require.NoError(t, srv.Mount("/greeter", greeter()))
	serve(t, srv)

	v, err := do(t, tr, transport.MethodPost, "/greeter?action=greet", envelope.NewRequest(map[string]interface{}{"name": "kson"}))
	require.NoError(t, err)

	res, ok := v.(*envelope.Response)
	require.True(t, ok, "expected a Response envelope; got %T", v)
	assert.True(t, res.OK())
	assert.Equal(t, "hello kson", res.Content())

	v, err = do(t, tr, transport.MethodPost, "/greeter?action=nested", nil)
	require.NoError(t, err)
	assert.IsType(t, &envelope.Service{}, v)
	assert.Equal(t, "/child", v.(*envelope.Service).URL())
}

func TestDispatchErrorShapes(t *testing.T) {
	srv, tr := newTestServer(t)
	require.NoError(t, srv.Mount("/greeter", greeter()))
	serve(t, srv)

	specs := []struct {
		descr    string
		method   string
		target   string
		body     envelope.Variant
		rawBody  []byte
		expError string
		expCode  string
	}{
		{descr: "unknown action", method: transport.MethodPost, target: "/greeter?action=bogus", body: envelope.NewRequest(nil), expError: ErrActionNotFound.Error(), expCode: envelope.CodeActionNotFound},
		{descr: "failed action", method: transport.MethodPost, target: "/greeter?action=fail", body: envelope.NewRequest(nil), expError: "nope"},
		{descr: "missing action", method: transport.MethodPost, target: "/greeter", body: envelope.NewRequest(nil), expError: ErrMissingAction.Error()},
		{descr: "not a request", method: transport.MethodPost, target: "/greeter?action=greet", body: envelope.NewResponse(1), expError: ErrNotARequest.Error()},
		{descr: "malformed body", method: transport.MethodPost, target: "/greeter?action=greet", rawBody: []byte("{"), expError: envelope.ErrMalformedEnvelope.Error()},
		{descr: "unknown variant", method: transport.MethodPost, target: "/greeter?action=greet", rawBody: []byte(`{"kind":"Bogus","apiVersion":"kson/v1"}`), expError: envelope.ErrUnknownVariant.Error()},
		{descr: "not pageable", method: transport.MethodGet, target: "/greeter?cursor=", expError: ErrNotPageable.Error()},
		{descr: "malformed query", method: transport.MethodGet, target: "/greeter?%zz", expError: "malformed query"},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			var v envelope.Variant
			var err error
			if spec.rawBody != nil {
				req := transport.MakeRequest(spec.method, spec.target)
				req.SetPayload(spec.rawBody, nil)
				res := <-tr.Request(req)
				payload, resErr := res.Payload()
				require.NoError(t, resErr)
				v, err = envelope.Decode(payload)
			} else {
				v, err = do(t, tr, spec.method, spec.target, spec.body)
			}
			require.NoError(t, err, "expected an envelope rather than a transport failure")

			res, ok := v.(*envelope.Response)
			require.True(t, ok, "expected a Response envelope; got %T", v)
			assert.False(t, res.OK())
			assert.Contains(t, res.Error(), spec.expError)
			assert.Equal(t, spec.expCode, res.Code())
		})
	}

	_, err := do(t, tr, transport.MethodGet, "/unknown", nil)
	assert.Equal(t, transport.ErrNotFound, err)

	_, err = do(t, tr, "DELETE", "/greeter", nil)
	assert.ErrorIs(t, err, transport.ErrNotFound)
}

// countingService defers its result a fixed number of times before
// succeeding.
func countingService(deferrals int32, calls *int32) *Service {
	return &Service{
		Actions: map[string]Action{
			"compute": {Handler: func(_ context.Context, args map[string]interface{}) outcome.Result {
				if atomic.AddInt32(calls, 1) <= deferrals {
					return outcome.RetryLater(0)
				}
				return outcome.Ready(args["x"])
			}},
			"forever": {Handler: func(_ context.Context, _ map[string]interface{}) outcome.Result {
				return outcome.Deferred(1500 * time.Millisecond)
			}},
			"eventuallyFail": {Handler: func(_ context.Context, _ map[string]interface{}) outcome.Result {
				if atomic.AddInt32(calls, 1) <= deferrals {
					return outcome.RetryLater(0)
				}
				return outcome.Failed(errors.New("gave up"))
			}},
		},
	}
}

func TestFuturePolling(t *testing.T) {
	var calls int32
	srv, tr := newTestServer(t)
	require.NoError(t, srv.Mount("/jobs", countingService(2, &calls)))
	serve(t, srv)

	v, err := do(t, tr, transport.MethodPost, "/jobs?action=compute", envelope.NewRequest(map[string]interface{}{"x": 42.0}))
	require.NoError(t, err)

	future, ok := v.(*envelope.Future)
	require.True(t, ok, "expected a Future envelope; got %T", v)
	futureURL := future.URL()
	assert.Regexp(t, `^/\.futures\?id=[0-9A-Z]{26}$`, futureURL)
	assert.Equal(t, time.Duration(0), future.Wait())

	// Second deferral returns the same url
	v, err = do(t, tr, transport.MethodGet, futureURL, nil)
	require.NoError(t, err)
	require.IsType(t, &envelope.Future{}, v)
	assert.Equal(t, futureURL, v.(*envelope.Future).URL())

	v, err = do(t, tr, transport.MethodGet, futureURL, nil)
	require.NoError(t, err)
	res, ok := v.(*envelope.Response)
	require.True(t, ok, "expected a Response envelope; got %T", v)
	assert.True(t, res.OK())
	assert.Equal(t, 42.0, res.Content())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	// The parked invocation is dropped once resolved
	_, err = do(t, tr, transport.MethodGet, futureURL, nil)
	assert.Equal(t, transport.ErrNotFound, err)
}

func TestFutureWaitHintAndFailure(t *testing.T) {
	var calls int32
	srv, tr := newTestServer(t)
	require.NoError(t, srv.Mount("/jobs", countingService(1, &calls)))
	serve(t, srv)

	v, err := do(t, tr, transport.MethodPost, "/jobs?action=forever", nil)
	require.NoError(t, err)
	require.IsType(t, &envelope.Future{}, v)
	assert.Equal(t, 1500*time.Millisecond, v.(*envelope.Future).Wait())

	v, err = do(t, tr, transport.MethodPost, "/jobs?action=eventuallyFail", nil)
	require.NoError(t, err)
	require.IsType(t, &envelope.Future{}, v)

	v, err = do(t, tr, transport.MethodGet, v.(*envelope.Future).URL(), nil)
	require.NoError(t, err)
	res, ok := v.(*envelope.Response)
	require.True(t, ok, "expected a Response envelope; got %T", v)
	assert.False(t, res.OK())
	assert.Equal(t, "gave up", res.Error())
}

func TestFuturePollErrors(t *testing.T) {
	store, err := futures.NewMemoryStore(time.Minute)
	require.NoError(t, err)

	srv, tr := newTestServer(t, WithFutureStore(store))
	serve(t, srv)

	_, err = do(t, tr, transport.MethodGet, FutureURL("01HZZZZZZZZZZZZZZZZZZZZZZZ"), nil)
	assert.Equal(t, transport.ErrNotFound, err)

	_, err = do(t, tr, transport.MethodPost, FutureURL("01HZZZZZZZZZZZZZZZZZZZZZZZ"), nil)
	assert.Equal(t, transport.ErrNotFound, err)

	// Invocations parked for targets that are no longer mounted are dropped
	id, err := store.Park(context.Background(), futures.Pending{Path: "/gone", Action: "x", Args: []byte("{}")})
	require.NoError(t, err)
	_, err = do(t, tr, transport.MethodGet, FutureURL(id), nil)
	assert.Equal(t, transport.ErrNotFound, err)
	_, err = store.Lookup(context.Background(), id)
	assert.ErrorIs(t, err, futures.ErrNotFound)
}

type brokenStore struct{}

func (brokenStore) Park(context.Context, futures.Pending) (string, error) {
	return "", errors.New("store is down")
}

func (brokenStore) Lookup(context.Context, string) (futures.Pending, error) {
	return futures.Pending{}, errors.New("store is down")
}

func (brokenStore) Drop(context.Context, string) error {
	return errors.New("store is down")
}

func TestFutureStoreFailuresAreInternal(t *testing.T) {
	var calls int32
	srv, tr := newTestServer(t, WithFutureStore(brokenStore{}))
	require.NoError(t, srv.Mount("/jobs", countingService(1, &calls)))
	serve(t, srv)

	_, err := do(t, tr, transport.MethodPost, "/jobs?action=compute", nil)
	assert.ErrorIs(t, err, transport.ErrInternal)

	_, err = do(t, tr, transport.MethodGet, FutureURL("any"), nil)
	assert.ErrorIs(t, err, transport.ErrInternal)
}

var errDropFailed = errors.New("drop failed")

type dropFailingStore struct {
	futures.Store
}

func (dropFailingStore) Drop(context.Context, string) error {
	return errDropFailed
}

func TestUnroutableFutureDropFailureIsLogged(t *testing.T) {
	inner, err := futures.NewMemoryStore(time.Minute)
	require.NoError(t, err)
	logs := watermill.NewCaptureLogger()

	srv, tr := newTestServer(t,
		WithFutureStore(dropFailingStore{inner}),
		WithLogger(logging.NewWatermillServiceLogger(logs)),
	)
	serve(t, srv)

	id, err := inner.Park(context.Background(), futures.Pending{Path: "/gone", Action: "x", Args: []byte("{}")})
	require.NoError(t, err)

	_, err = do(t, tr, transport.MethodGet, FutureURL(id), nil)
	assert.Equal(t, transport.ErrNotFound, err)
	assert.True(t, logs.HasError(errDropFailed), "expected the drop failure to be logged")
}

func TestRequestPayloadErrorsAreInternal(t *testing.T) {
	srv, tr := newTestServer(t)
	require.NoError(t, srv.Mount("/greeter", greeter()))
	serve(t, srv)

	req := transport.MakeRequest(transport.MethodPost, "/greeter?action=greet")
	req.SetPayload(nil, errors.New("truncated body"))

	res := <-tr.Request(req)
	defer res.Close()
	_, err := res.Payload()
	assert.ErrorIs(t, err, transport.ErrInternal)
}

func TestResponsesCarryKindHeader(t *testing.T) {
	srv, tr := newTestServer(t)
	require.NoError(t, srv.Mount("/greeter", greeter()))
	serve(t, srv)

	kindOf := func(req transport.Message) string {
		res := <-tr.Request(req)
		defer res.Close()
		return res.Headers()[HeaderKind]
	}

	assert.Equal(t, envelope.KindService, kindOf(transport.MakeRequest(transport.MethodGet, "/greeter")))
	assert.Equal(t, envelope.KindResponse, kindOf(transport.MakeRequest(transport.MethodPost, "/greeter?action=fail")))
	assert.Empty(t, kindOf(transport.MakeRequest(transport.MethodGet, "/missing")))
}

func TestInternalErrorsAreMasked(t *testing.T) {
	srv, tr := newTestServer(t)
	require.NoError(t, srv.Mount("/svc", &Service{
		Actions: map[string]Action{
			// Channels cannot be encoded as JSON
			"unencodable": {Handler: func(_ context.Context, _ map[string]interface{}) outcome.Result {
				return outcome.Ready(make(chan int))
			}},
		},
	}))
	serve(t, srv)

	_, err := do(t, tr, transport.MethodPost, "/svc?action=unencodable", nil)
	assert.ErrorIs(t, err, transport.ErrInternal)
}

func TestFutureURL(t *testing.T) {
	u, err := url.Parse(FutureURL("abc"))
	require.NoError(t, err)
	assert.Equal(t, FuturesPath, u.Path)
	assert.Equal(t, "abc", u.Query().Get(QueryFutureID))
}
