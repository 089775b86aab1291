// Package json provides the JSON codec used for kson envelopes. It is backed
// by sonic configured for full encoding/json compatibility so that map keys
// are sorted and HTML characters are escaped exactly like the standard
// library would.
package json

import (
	stdjson "encoding/json"
	"io"

	"github.com/achilleasa/kson/encoding"
	"github.com/bytedance/sonic"
)

// RawMessage is a raw encoded JSON value. It is the standard library type so
// that values decoded here interoperate with code using encoding/json.
type RawMessage = stdjson.RawMessage

var api = sonic.ConfigStd

// Marshal returns the JSON encoding of v.
func Marshal(v interface{}) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal parses the JSON-encoded data and stores the result in the value
// pointed to by v.
func Unmarshal(data []byte, v interface{}) error {
	return api.Unmarshal(data, v)
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return api.Valid(data)
}

// Encode writes the JSON encoding of v to w.
func Encode(w io.Writer, v interface{}) error {
	return api.NewEncoder(w).Encode(v)
}

type jsonCodec struct{}

func (c *jsonCodec) Name() string {
	return "json"
}

func (c *jsonCodec) Marshaler() encoding.Marshaler {
	return Marshal
}

func (c *jsonCodec) Unmarshaler() encoding.Unmarshaler {
	return Unmarshal
}

// Codec returns a codec that implements encoding and decoding of JSON data.
func Codec() encoding.Codec {
	return &jsonCodec{}
}
