// Package encoding defines the codec contract shared by the packages that
// need to turn values into bytes: the envelope registry (which always speaks
// JSON on the wire) and the server-side stores that persist parked
// invocations.
package encoding

// Marshaler is the interface implemented by objects that can produce a byte
// representation of another object.
type Marshaler func(interface{}) ([]byte, error)

// Unmarshaler is the interface implemented by objects that can unmarshal a byte
// representation of an object into an object instance.
type Unmarshaler func([]byte, interface{}) error

// Codec is implemented by objects that can produce marshalers and unmarshalers.
//
// Name returns a short identifier for the codec (e.g. "json") that can be
// used to select it from configuration.
type Codec interface {
	Name() string
	Marshaler() Marshaler
	Unmarshaler() Unmarshaler
}
