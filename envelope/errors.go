package envelope

import "errors"

// Decoding errors
var (
	// ErrMalformedEnvelope is returned when a payload is not a JSON object or
	// lacks a string kind/apiVersion pair.
	ErrMalformedEnvelope = errors.New("kson: malformed envelope")

	// ErrUnknownVariant is returned when the (kind, apiVersion) tag of a
	// payload is not registered. It usually indicates a protocol version
	// mismatch between the two peers.
	ErrUnknownVariant = errors.New("kson: unknown envelope variant")

	// ErrFieldMismatch is returned when the fields of a payload do not match
	// the field set declared by its variant.
	ErrFieldMismatch = errors.New("kson: envelope fields do not match variant schema")
)

// Registration and encoding errors
var (
	// ErrDuplicateRegistration is returned when a tag (or a variant type) is
	// registered twice.
	ErrDuplicateRegistration = errors.New("kson: duplicate envelope registration")

	// ErrInvalidRegistration is returned when a registration entry is unusable.
	ErrInvalidRegistration = errors.New("kson: invalid envelope registration")

	// ErrUnregisteredVariant is returned when encoding a value whose type has
	// no registered tag.
	ErrUnregisteredVariant = errors.New("kson: unregistered envelope variant")
)
