// Package http provides a kson transport over HTTP.
package http

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"strings"
	"sync"

	"github.com/achilleasa/kson/config"
	"github.com/achilleasa/kson/config/flag"
	"github.com/achilleasa/kson/transport"
)

const (
	// The prefix for kson headers.
	headerPrefix = "Kson-"

	// Reserved header names (in canonical form) used by the transport.
	requestIDHeader = "Request-Id"

	contentTypeJSON = "application/json"
)

// A set of endpoints that can be hooked by tests
var (
	listen     = net.Listen
	newRequest = nethttp.NewRequest
	readAll    = io.ReadAll
)

var (
	_                 transport.Provider = &Transport{}
	singletonInstance *Transport
	singletonMutex    sync.Mutex
)

// URLBuilder maps the path and raw query of an outgoing request to the URL
// that the client should contact.
type URLBuilder interface {
	URL(path, query string) string
}

// BaseURL is a URLBuilder that prefixes paths with a fixed scheme and host,
// for example "http://localhost:8080".
type BaseURL string

// URL implements URLBuilder.
func (b BaseURL) URL(path, query string) string {
	return strings.TrimSuffix(string(b), "/") + transport.JoinTarget(path, query)
}

type defaultURLBuilder struct {
	protocol *flag.String
	host     *flag.String
	port     *flag.Uint32
}

func (b defaultURLBuilder) URL(path, query string) string {
	base := fmt.Sprintf("%s://%s", b.protocol.Get(), b.host.Get())
	if port := b.port.Get(); port != 0 {
		base = fmt.Sprintf("%s:%d", base, port)
	}
	return BaseURL(base).URL(path, query)
}

type requestMaker interface {
	Do(req *nethttp.Request) (*nethttp.Response, error)
}

// Transport implements a kson transport over HTTP.
//
// When operating as a server, the transport dispatches incoming GET and POST
// requests whose URL path matches a binding. Requests with other methods or
// unknown paths fail with http.StatusNotFound (404).
//
// The transport returns http.StatusOK with a JSON body if the binding handler
// sets a payload and maps handler errors to HTTP status codes using the
// following rules:
//   - 404 = transport.ErrNotFound
//   - 408 = transport.ErrTimeout
//   - 503 = transport.ErrServiceUnavailable
//   - 500 = any other error; no body or error details are sent
//
// The client side applies the reverse mapping, so remote failures surface as
// the same sentinel errors.
//
// Message headers travel as HTTP headers with a "Kson-" prefix.
//
// The transport watches the following configuration keys:
//   - transport/http/protocol (default: http). Only "http" is supported.
//   - transport/http/host (default: localhost). The host to listen on and to
//     contact when operating as a client.
//   - transport/http/port (default: 8080). The port to listen on and to
//     contact. Port 0 makes the server listen on an ephemeral port.
//
// If any of the above values changes while the transport is dialed in server
// mode, the transport closes the existing listener and listens again.
//
// Clients build request URLs with a URLBuilder. The default builder uses the
// configuration keys above; it can be replaced by setting the URLBuilder
// field before calling Dial.
type Transport struct {
	// Internal locks.
	rwMutex        sync.RWMutex
	serverRefCount int
	clientRefCount int

	// The declared bindings.
	bindings map[string]transport.Handler

	// Config options.
	config   *flag.Map
	protocol *flag.String
	host     *flag.String
	port     *flag.Uint32

	// A channel which is closed to stop the config watcher.
	watcherDoneChan chan struct{}

	// The http server and its listener.
	server         *nethttp.Server
	listener       net.Listener
	serverDoneChan chan struct{}

	// A client implementation that can perform http requests.
	client requestMaker

	// URLBuilder can be overridden to point clients at a specific server.
	URLBuilder URLBuilder
}

// New creates a new http transport instance.
func New() *Transport {
	return &Transport{
		bindings: make(map[string]transport.Handler),
		config:   config.MapFlag("transport/http"),
		protocol: config.StringFlag("transport/http/protocol", "http"),
		host:     config.StringFlag("transport/http/host", "localhost"),
		port:     config.Uint32Flag("transport/http/port", 8080),
	}
}

// Addr returns the address of the server listener or nil if the transport is
// not dialed in server mode.
func (t *Transport) Addr() net.Addr {
	t.rwMutex.RLock()
	defer t.rwMutex.RUnlock()

	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Dial connects the transport using the specified dial mode. When the dial
// mode is set to ModeServer the transport starts listening for requests.
func (t *Transport) Dial(mode transport.Mode) error {
	t.rwMutex.Lock()
	defer t.rwMutex.Unlock()

	switch mode {
	case transport.ModeServer:
		if t.serverRefCount > 0 {
			t.serverRefCount++
			return nil
		}
		if err := t.dial(); err != nil {
			return err
		}
		t.serverRefCount++
		t.startWatcher()
	default:
		if t.clientRefCount > 0 {
			t.clientRefCount++
			return nil
		}
		t.createClient()
		t.clientRefCount++
	}

	return nil
}

// Close undoes a Dial call for mode. The listener is shut down when the
// last server-mode reference is released.
func (t *Transport) Close(mode transport.Mode) error {
	t.rwMutex.Lock()
	defer t.rwMutex.Unlock()

	switch mode {
	case transport.ModeServer:
		if t.serverRefCount == 0 {
			return transport.ErrTransportClosed
		}

		t.serverRefCount--
		if t.serverRefCount == 0 {
			t.stopWatcher()
			t.shutdown()
		}
	default:
		if t.clientRefCount == 0 {
			return transport.ErrTransportClosed
		}

		t.clientRefCount--
	}

	return nil
}

// Bind routes requests for path to handler. Bindings can be added at any
// time; they take effect immediately.
func (t *Transport) Bind(path string, handler transport.Handler) error {
	t.rwMutex.Lock()
	defer t.rwMutex.Unlock()

	if _, exists := t.bindings[path]; exists {
		return fmt.Errorf("binding %q already defined", path)
	}

	t.bindings[path] = handler
	return nil
}

// Unbind removes a handler previously registered by a call to Bind.
func (t *Transport) Unbind(path string) {
	t.rwMutex.Lock()
	defer t.rwMutex.Unlock()

	delete(t.bindings, path)
}

// Request performs an HTTP request and returns back a read-only channel for
// receiving the result.
func (t *Transport) Request(reqMsg transport.Message) <-chan transport.ImmutableMessage {
	resChan := make(chan transport.ImmutableMessage, 1)

	go func() {
		resMsg := transport.MakeResponse(reqMsg)
		defer func() {
			resChan <- resMsg
			close(resChan)
		}()

		t.rwMutex.RLock()
		client, urlBuilder, dialed := t.client, t.URLBuilder, t.clientRefCount > 0
		t.rwMutex.RUnlock()

		if !dialed {
			resMsg.ErrField = transport.ErrTransportClosed
			return
		}

		payload, _ := reqMsg.Payload()
		var body io.Reader
		if len(payload) != 0 {
			body = bytes.NewReader(payload)
		}

		httpReq, err := newRequest(reqMsg.Method(), urlBuilder.URL(reqMsg.Path(), reqMsg.Query()), body)
		if err != nil {
			resMsg.ErrField = err
			return
		}

		for name, value := range reqMsg.Headers() {
			httpReq.Header.Set(headerPrefix+name, value)
		}
		// Internal headers are set last so they cannot be overridden.
		httpReq.Header.Set(headerPrefix+requestIDHeader, reqMsg.ID())
		if body != nil {
			httpReq.Header.Set("Content-Type", contentTypeJSON)
		}

		httpRes, err := client.Do(httpReq)
		if err != nil {
			resMsg.ErrField = err
			return
		}
		defer httpRes.Body.Close()

		switch httpRes.StatusCode {
		case nethttp.StatusOK:
			resMsg.PayloadField, resMsg.ErrField = readAll(httpRes.Body)
		case nethttp.StatusNotFound:
			resMsg.ErrField = transport.ErrNotFound
		case nethttp.StatusRequestTimeout:
			resMsg.ErrField = transport.ErrTimeout
		case nethttp.StatusServiceUnavailable:
			resMsg.ErrField = transport.ErrServiceUnavailable
		case nethttp.StatusInternalServerError:
			resMsg.ErrField = transport.ErrInternal
		default:
			resMsg.ErrField = fmt.Errorf("unexpected HTTP status %d", httpRes.StatusCode)
		}
		if resMsg.ErrField != nil {
			return
		}

		for name, values := range httpRes.Header {
			if !strings.HasPrefix(name, headerPrefix) || len(values) == 0 || values[0] == "" {
				continue
			}

			name = strings.TrimPrefix(name, headerPrefix)
			if name == requestIDHeader {
				continue
			}
			resMsg.HeadersField[name] = values[0]
		}
	}()

	return resChan
}

// dial starts listening. Must be invoked after acquiring the rwMutex.
func (t *Transport) dial() error {
	protocol := t.protocol.Get()
	if protocol != "http" {
		return fmt.Errorf("unsupported protocol %q", protocol)
	}

	// If we are already listening shut down the old server
	t.shutdown()

	listener, err := listen("tcp", fmt.Sprintf("%s:%d", t.host.Get(), t.port.Get()))
	if err != nil {
		return err
	}

	t.listener = listener
	t.server = &nethttp.Server{Handler: nethttp.HandlerFunc(t.mux)}
	t.serverDoneChan = make(chan struct{})
	go func(srv *nethttp.Server, listener net.Listener, doneChan chan struct{}) {
		defer close(doneChan)
		srv.Serve(listener)
	}(t.server, t.listener, t.serverDoneChan)

	return nil
}

// shutdown closes the listener and any open connections. Must be invoked
// after acquiring the rwMutex.
func (t *Transport) shutdown() {
	if t.server == nil {
		return
	}

	t.server.Close()
	<-t.serverDoneChan

	t.server = nil
	t.listener = nil
	t.serverDoneChan = nil
}

// startWatcher spawns a goroutine that re-listens when the transport
// configuration changes. Must be invoked after acquiring the rwMutex.
func (t *Transport) startWatcher() {
	t.watcherDoneChan = make(chan struct{})
	go func(doneChan chan struct{}) {
		for {
			select {
			case <-doneChan:
				return
			case <-t.config.ChangeChan():
			}

			t.rwMutex.Lock()
			if t.serverRefCount > 0 {
				t.dial()
			}
			t.rwMutex.Unlock()
		}
	}(t.watcherDoneChan)
}

func (t *Transport) stopWatcher() {
	if t.watcherDoneChan != nil {
		close(t.watcherDoneChan)
		t.watcherDoneChan = nil
	}
}

// mux is the http server request handler that is invoked (in a goroutine)
// for each incoming HTTP request.
func (t *Transport) mux(rw nethttp.ResponseWriter, httpReq *nethttp.Request) {
	defer httpReq.Body.Close()

	if httpReq.Method != transport.MethodGet && httpReq.Method != transport.MethodPost {
		rw.WriteHeader(nethttp.StatusNotFound)
		return
	}

	t.rwMutex.RLock()
	handler, exists := t.bindings[httpReq.URL.Path]
	t.rwMutex.RUnlock()

	if !exists {
		rw.WriteHeader(nethttp.StatusNotFound)
		return
	}

	reqMsg := transport.MakeGenericMessage()
	defer reqMsg.Close()
	reqMsg.MethodField = httpReq.Method
	reqMsg.PathField = httpReq.URL.Path
	reqMsg.QueryField = httpReq.URL.RawQuery

	var err error
	if reqMsg.PayloadField, err = readAll(httpReq.Body); err != nil {
		rw.WriteHeader(nethttp.StatusInternalServerError)
		return
	}

	for name, values := range httpReq.Header {
		if !strings.HasPrefix(name, headerPrefix) || len(values) == 0 || values[0] == "" {
			continue
		}

		name = strings.TrimPrefix(name, headerPrefix)
		switch name {
		case requestIDHeader:
			reqMsg.IDField = values[0]
		default:
			reqMsg.HeadersField[name] = values[0]
		}
	}

	resMsg := transport.MakeResponse(reqMsg)
	defer resMsg.Close()

	handler.Process(reqMsg, resMsg)

	switch {
	case resMsg.ErrField == nil:
	case errors.Is(resMsg.ErrField, transport.ErrNotFound):
		rw.WriteHeader(nethttp.StatusNotFound)
		return
	case errors.Is(resMsg.ErrField, transport.ErrTimeout):
		rw.WriteHeader(nethttp.StatusRequestTimeout)
		return
	case errors.Is(resMsg.ErrField, transport.ErrServiceUnavailable):
		rw.WriteHeader(nethttp.StatusServiceUnavailable)
		return
	default:
		rw.WriteHeader(nethttp.StatusInternalServerError)
		return
	}

	for name, value := range resMsg.HeadersField {
		rw.Header().Set(headerPrefix+name, value)
	}
	rw.Header().Set(headerPrefix+requestIDHeader, resMsg.IDField)
	rw.Header().Set("Content-Type", contentTypeJSON)
	rw.WriteHeader(nethttp.StatusOK)

	if resMsg.PayloadField != nil {
		rw.Write(resMsg.PayloadField)
	}
}

// createClient sets up the http client. Must be called while holding the
// write mutex.
func (t *Transport) createClient() {
	if t.URLBuilder == nil {
		t.URLBuilder = defaultURLBuilder{protocol: t.protocol, host: t.host, port: t.port}
	}
	if t.client == nil {
		t.client = &nethttp.Client{}
	}
}

// Factory is a factory for creating kson transport instances whose concrete
// implementation is the HTTP transport. This function behaves exactly the
// same as New() but returns back a Provider interface allowing it to be used
// as kson.DefaultTransportFactory.
func Factory() transport.Provider {
	return New()
}

// SingletonFactory is a factory for creating singleton HTTP transport
// instances. This function returns back a Provider interface allowing it to
// be used as kson.DefaultTransportFactory.
func SingletonFactory() transport.Provider {
	singletonMutex.Lock()
	defer singletonMutex.Unlock()

	if singletonInstance == nil {
		singletonInstance = New()
	}
	return singletonInstance
}

func init() {
	config.SetDefaults("transport/http", map[string]string{
		"protocol": "http",
		"host":     "localhost",
		"port":     "8080",
	})
}
