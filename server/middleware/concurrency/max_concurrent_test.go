package concurrency

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/achilleasa/kson/config"
	"github.com/achilleasa/kson/envelope"
	"github.com/achilleasa/kson/logging"
	"github.com/achilleasa/kson/outcome"
	"github.com/achilleasa/kson/server"
	"github.com/achilleasa/kson/server/futures"
	"github.com/achilleasa/kson/transport"
	"github.com/achilleasa/kson/transport/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invoke(tr transport.Provider, path string) error {
	req := transport.MakeRequest(transport.MethodPost, path+"?action=work")
	payload, _ := envelope.Encode(envelope.NewRequest(nil))
	req.SetPayload(payload, nil)

	res := <-tr.Request(req)
	defer res.Close()
	_, err := res.Payload()
	return err
}

func TestSingletonFactory(t *testing.T) {
	workStartChan := make(chan struct{})
	workDoneChan := make(chan struct{})
	blocking := &server.Service{Actions: map[string]server.Action{
		"work": {Handler: func(_ context.Context, _ map[string]interface{}) outcome.Result {
			close(workStartChan)
			<-workDoneChan
			return outcome.Ready(nil)
		}},
	}}
	instant := &server.Service{Actions: map[string]server.Action{
		"work": {Handler: func(_ context.Context, _ map[string]interface{}) outcome.Result {
			return outcome.Ready(nil)
		}},
	}}

	tr := memory.New()
	store, err := futures.NewMemoryStore(time.Minute)
	require.NoError(t, err)
	srv, err := server.New(
		server.WithTransport(tr),
		server.WithFutureStore(store),
		server.WithLogger(logging.NewNopLogger()),
		server.WithMiddleware(SingletonFactory(1, 100*time.Millisecond)),
	)
	require.NoError(t, err)
	require.NoError(t, srv.Mount("/ep1", blocking))
	require.NoError(t, srv.Mount("/ep2", instant))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)
	<-srv.Ready()

	require.NoError(t, tr.Dial(transport.ModeClient))
	defer tr.Close(transport.ModeClient)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		assert.NoError(t, invoke(tr, "/ep1"), "expected ep1 call to succeed")
	}()

	// The token pool is shared so ep2 cannot acquire a token within 100ms
	go func() {
		defer wg.Done()
		<-workStartChan

		assert.Equal(t, transport.ErrTimeout, invoke(tr, "/ep2"))
		close(workDoneChan)
	}()

	wg.Wait()

	assert.NoError(t, invoke(tr, "/ep2"), "expected call to succeed once the token is returned")
}

func TestFactory(t *testing.T) {
	f := Factory(1, 50*time.Millisecond)

	blockChan := make(chan struct{})
	enteredChan := make(chan struct{})
	m1 := f(server.MiddlewareFunc(func(_ context.Context, _ transport.ImmutableMessage, _ transport.Message) {
		close(enteredChan)
		<-blockChan
	}))
	m2 := f(server.MiddlewareFunc(func(_ context.Context, _ transport.ImmutableMessage, _ transport.Message) {}))

	req := transport.MakeGenericMessage()
	defer req.Close()

	go m1.Handle(context.Background(), req, transport.MakeGenericMessage())
	<-enteredChan
	defer close(blockChan)

	// m2 has its own private pool
	res := transport.MakeGenericMessage()
	defer res.Close()
	m2.Handle(context.Background(), req, res)
	_, err := res.Payload()
	require.NoError(t, err)

	res = transport.MakeGenericMessage()
	defer res.Close()
	m1.Handle(context.Background(), req, res)
	_, err = res.Payload()
	assert.Equal(t, transport.ErrTimeout, err)

	// Cancelled contexts abort the wait
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res = transport.MakeGenericMessage()
	defer res.Close()
	Factory(0, time.Hour)(m2).Handle(ctx, req, res)
	_, err = res.Payload()
	assert.Equal(t, transport.ErrTimeout, err)
}

func TestPanicsReleaseTheToken(t *testing.T) {
	f := SingletonFactory(1, 50*time.Millisecond)
	m := f(server.MiddlewareFunc(func(_ context.Context, _ transport.ImmutableMessage, _ transport.Message) {
		panic("boom")
	}))

	func() {
		defer func() { recover() }()
		m.Handle(context.Background(), transport.MakeGenericMessage(), transport.MakeGenericMessage())
	}()

	res := transport.MakeGenericMessage()
	defer res.Close()
	f(server.MiddlewareFunc(func(_ context.Context, _ transport.ImmutableMessage, _ transport.Message) {})).
		Handle(context.Background(), transport.MakeGenericMessage(), res)
	_, err := res.Payload()
	assert.NoError(t, err, "expected token to be returned after a panic")
}

func TestDynamicFactory(t *testing.T) {
	configPath := "test/concurrency"
	config.Store.SetKeys(1, configPath, map[string]string{
		"max_concurrent": "1",
		"timeout":        fmt.Sprint(100 * time.Millisecond),
	})

	f := DynamicFactory(configPath)

	var wg sync.WaitGroup
	wg.Add(1)
	blockChan := make(chan struct{})
	blocked := f(server.MiddlewareFunc(func(_ context.Context, _ transport.ImmutableMessage, _ transport.Message) {
		wg.Done()
		<-blockChan
	}))
	instant := f(server.MiddlewareFunc(func(_ context.Context, _ transport.ImmutableMessage, _ transport.Message) {}))

	req := transport.MakeGenericMessage()
	defer req.Close()

	go blocked.Handle(context.Background(), req, transport.MakeGenericMessage())
	wg.Wait()
	defer close(blockChan)

	res := transport.MakeGenericMessage()
	defer res.Close()
	instant.Handle(context.Background(), req, res)
	_, err := res.Payload()
	require.Equal(t, transport.ErrTimeout, err)

	// Raise the limit
	config.Store.SetKey(2, configPath+"/max_concurrent", "2")
	assert.Eventually(t, func() bool {
		res := transport.MakeGenericMessage()
		defer res.Close()
		instant.Handle(context.Background(), req, res)
		_, err := res.Payload()
		return err == nil
	}, time.Second, time.Millisecond, "expected call to succeed after raising the limit")
}
