package transport

import (
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	// We allocate our messages of a pool so we can reduce GC pressure.
	msgPool = sync.Pool{
		New: func() interface{} {
			return &GenericMessage{}
		},
	}
)

// GenericMessage provides a re-usable message implementation that implements both
// Message and ImmutableMessage interfaces. Transports can use this as a basis
// for their own message implementations.
type GenericMessage struct {
	IDField      string
	MethodField  string
	PathField    string
	QueryField   string
	HeadersField map[string]string
	PayloadField []byte
	ErrField     error
}

// ID returns a UUID for this message.
func (m *GenericMessage) ID() string {
	return m.IDField
}

// Close implements io.Closer and should be called when the message is no longer used.
func (m *GenericMessage) Close() error {
	msgPool.Put(m)

	return nil
}

// Method returns the request method.
func (m *GenericMessage) Method() string {
	return m.MethodField
}

// Path returns the path of the addressed object.
func (m *GenericMessage) Path() string {
	return m.PathField
}

// Query returns the raw query string.
func (m *GenericMessage) Query() string {
	return m.QueryField
}

// Target returns the path and query joined by "?" (or just the path when
// there is no query).
func (m *GenericMessage) Target() string {
	return JoinTarget(m.PathField, m.QueryField)
}

// Headers returns a map of header values associated with the message.
func (m *GenericMessage) Headers() map[string]string {
	return m.HeadersField
}

// SetHeader sets the content of a message header to the specified value.
// If the specified header already exists, its value will be overwritten
// by the new value.
//
// This function ensures that header names are always canonicalized by passing
// them through http.CanonicalHeaderKey.
func (m *GenericMessage) SetHeader(name, value string) {
	m.HeadersField[http.CanonicalHeaderKey(name)] = value
}

// SetHeaders sets the contents of a batch of headers. This is equivalent
// to iterating the map and calling SetHeader for each key/value.
func (m *GenericMessage) SetHeaders(values map[string]string) {
	for k, v := range values {
		m.HeadersField[http.CanonicalHeaderKey(k)] = v
	}
}

// Payload returns the payload associated with the message as a byte
// slice or an error if one is encoded in the message.
func (m *GenericMessage) Payload() ([]byte, error) {
	return m.PayloadField, m.ErrField
}

// SetPayload sets the content of this message. The content may be either
// a byte slice or an error.
func (m *GenericMessage) SetPayload(payload []byte, err error) {
	m.PayloadField = payload
	m.ErrField = err
}

// MakeGenericMessage creates a new GenericMessage instance
func MakeGenericMessage() *GenericMessage {
	m := msgPool.Get().(*GenericMessage)
	m.IDField = GenerateID()
	m.MethodField = ""
	m.PathField = ""
	m.QueryField = ""
	m.HeadersField = make(map[string]string)
	m.PayloadField = nil
	m.ErrField = nil
	return m
}

// MakeRequest creates a GenericMessage for method addressed at target, a
// path optionally followed by "?" and a raw query.
func MakeRequest(method, target string) *GenericMessage {
	m := MakeGenericMessage()
	m.MethodField = method
	m.PathField, m.QueryField = SplitTarget(target)
	return m
}

// MakeResponse creates a GenericMessage answering req. The response shares
// the request ID and addressing fields.
func MakeResponse(req ImmutableMessage) *GenericMessage {
	m := MakeGenericMessage()
	m.IDField = req.ID()
	m.MethodField = req.Method()
	m.PathField = req.Path()
	m.QueryField = req.Query()
	return m
}

// SplitTarget splits "path?query" into its components.
func SplitTarget(target string) (path, query string) {
	path, query, _ = strings.Cut(target, "?")
	return path, query
}

// JoinTarget is the inverse of SplitTarget.
func JoinTarget(path, query string) string {
	if query == "" {
		return path
	}
	return path + "?" + query
}

// GenerateID generates a formatted random UUID that can be used as a message ID.
func GenerateID() string {
	return uuid.New().String()
}
