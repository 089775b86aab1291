// Package transport defines the collaborator that moves kson envelopes
// between clients and servers. Transports deal in opaque payloads addressed
// by a method, a path and a raw query string; they know nothing about
// envelopes.
package transport

// Mode selects the role a transport is dialed for.
type Mode uint8

// Supported transport modes.
const (
	ModeServer Mode = iota
	ModeClient
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m == ModeServer {
		return "server"
	}
	return "client"
}

// A Handler responds to an inbound request.
//
// Process is invoked to handle an incoming request. The handler should process
// the request and must update the response message with either the response
// payload or an error.
type Handler interface {
	Process(req ImmutableMessage, res Message)
}

// The HandlerFunc type is an adapter to allow the use of
// ordinary functions as request handlers. If f is a function
// with the appropriate signature, HandlerFunc(f) is a
// Handler that calls f.
type HandlerFunc func(req ImmutableMessage, res Message)

// Process calls f(req, res).
func (f HandlerFunc) Process(req ImmutableMessage, res Message) {
	f(req, res)
}

// Provider defines an interface implemented by transports that can be used
// by kson servers and clients.
type Provider interface {
	// Dial connects the transport in the requested mode. In server mode the
	// transport starts relaying inbound requests to its bindings. Transports
	// reference count Dial calls per mode.
	Dial(mode Mode) error

	// Close undoes a Dial call for the given mode. Closing a mode that is
	// not dialed returns ErrTransportClosed.
	Close(mode Mode) error

	// Bind routes requests whose path equals path to handler. Binding the
	// same path twice returns an error.
	Bind(path string, handler Handler) error

	// Unbind removes a binding. Unbinding an unknown path has no effect.
	Unbind(path string)

	// Request performs a request and returns back a read-only channel for
	// receiving the result. The channel yields exactly one message.
	Request(msg Message) <-chan ImmutableMessage
}
