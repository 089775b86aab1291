// Package memory provides an in-process transport. It uses goroutines to
// deliver requests to bound handlers, which makes it handy for tests and for
// embedding a server and a client in the same process.
package memory

import (
	"fmt"
	"sync"

	"github.com/achilleasa/kson/transport"
)

var (
	_ transport.Provider = &Transport{}
)

// Transport implements the in-memory transport.
type Transport struct {
	mutex          sync.RWMutex
	serverRefCount int
	clientRefCount int

	bindings map[string]transport.Handler
}

// New creates a new in-memory transport instance.
func New() *Transport {
	return &Transport{
		bindings: make(map[string]transport.Handler),
	}
}

// Dial connects the transport in the given mode.
func (t *Transport) Dial(mode transport.Mode) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	switch mode {
	case transport.ModeServer:
		t.serverRefCount++
	default:
		t.clientRefCount++
	}
	return nil
}

// Close shuts down the transport for the given mode.
func (t *Transport) Close(mode transport.Mode) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	refCount := &t.clientRefCount
	if mode == transport.ModeServer {
		refCount = &t.serverRefCount
	}

	if *refCount == 0 {
		return transport.ErrTransportClosed
	}
	*refCount--
	return nil
}

// Bind routes requests for path to handler.
func (t *Transport) Bind(path string, handler transport.Handler) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, exists := t.bindings[path]; exists {
		return fmt.Errorf("binding %q already defined", path)
	}
	t.bindings[path] = handler
	return nil
}

// Unbind removes the binding for path.
func (t *Transport) Unbind(path string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	delete(t.bindings, path)
}

// Request delivers msg to the handler bound to its path. Requests fail with
// ErrTransportClosed if the transport is not dialed in client mode,
// ErrServiceUnavailable if it is not dialed in server mode and ErrNotFound if
// no handler is bound to the path.
func (t *Transport) Request(msg transport.Message) <-chan transport.ImmutableMessage {
	resChan := make(chan transport.ImmutableMessage, 1)

	t.mutex.RLock()
	var err error
	switch {
	case t.clientRefCount == 0:
		err = transport.ErrTransportClosed
	case t.serverRefCount == 0:
		err = transport.ErrServiceUnavailable
	}
	handler := t.bindings[msg.Path()]
	t.mutex.RUnlock()

	go func() {
		res := transport.MakeResponse(msg)

		switch {
		case err != nil:
			res.SetPayload(nil, err)
		case handler == nil:
			res.SetPayload(nil, transport.ErrNotFound)
		default:
			handler.Process(msg, res)
		}

		resChan <- res
		close(resChan)
	}()

	return resChan
}

// Factory is a factory for creating transport instances whose concrete
// implementation is the in-memory transport. It can be used as
// kson.DefaultTransportFactory.
func Factory() transport.Provider {
	return New()
}
