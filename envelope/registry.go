package envelope

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"

	"github.com/achilleasa/kson/encoding/json"
)

// Reserved top-level keys.
const (
	KeyKind       = "kind"
	KeyAPIVersion = "apiVersion"
)

var nullLiteral = []byte("null")

// Tag is the (kind, apiVersion) discriminator carried by every envelope.
type Tag struct {
	Kind       string
	APIVersion string
}

// String returns the tag in "kind@apiVersion" form.
func (t Tag) String() string {
	return t.Kind + "@" + t.APIVersion
}

// Variant is implemented by the concrete envelope types.
//
// Fields returns the wire fields declared by the variant keyed by their JSON
// name. Each value must be a pointer to the variant's storage for that field
// so that the registry can both read it (Encode) and populate it (Decode).
// The returned key set is the variant's schema: Decode requires a payload to
// carry exactly these keys besides kind and apiVersion.
type Variant interface {
	Fields() map[string]interface{}
}

// Factory returns a new zero-valued variant instance.
type Factory func() Variant

// Builder collects tag registrations and produces an immutable Registry.
// A Builder is not safe for concurrent use; it is meant to be populated once
// during process initialization.
type Builder struct {
	factories map[Tag]Factory
	tags      map[reflect.Type]Tag
}

// NewBuilder creates an empty registry builder.
func NewBuilder() *Builder {
	return &Builder{
		factories: make(map[Tag]Factory),
		tags:      make(map[reflect.Type]Tag),
	}
}

// Register associates a variant factory with a tag. Registering a tag twice,
// or registering the same Go type under two tags, fails with
// ErrDuplicateRegistration.
func (b *Builder) Register(tag Tag, factory Factory) error {
	if tag.Kind == "" || tag.APIVersion == "" {
		return fmt.Errorf("%w: tag %q has an empty kind or apiVersion", ErrInvalidRegistration, tag)
	}
	if factory == nil {
		return fmt.Errorf("%w: nil factory for %q", ErrInvalidRegistration, tag)
	}

	if _, exists := b.factories[tag]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateRegistration, tag)
	}

	sample := factory()
	if sample == nil {
		return fmt.Errorf("%w: factory for %q returned nil", ErrInvalidRegistration, tag)
	}
	for name, ptr := range sample.Fields() {
		if name == KeyKind || name == KeyAPIVersion {
			return fmt.Errorf("%w: %q declares reserved field %q", ErrInvalidRegistration, tag, name)
		}
		if rv := reflect.ValueOf(ptr); rv.Kind() != reflect.Ptr || rv.IsNil() {
			return fmt.Errorf("%w: %q field %q is not a pointer", ErrInvalidRegistration, tag, name)
		}
	}

	typ := reflect.TypeOf(sample)
	if other, exists := b.tags[typ]; exists {
		return fmt.Errorf("%w: type %s already registered as %q", ErrDuplicateRegistration, typ, other)
	}

	b.factories[tag] = factory
	b.tags[typ] = tag
	return nil
}

// MustRegister is like Register but panics on error.
func (b *Builder) MustRegister(tag Tag, factory Factory) *Builder {
	if err := b.Register(tag, factory); err != nil {
		panic(err)
	}
	return b
}

// Build returns a read-only registry containing the registered variants.
// The builder can be discarded afterwards; later registrations do not affect
// registries that were already built.
func (b *Builder) Build() *Registry {
	r := &Registry{
		factories: make(map[Tag]Factory, len(b.factories)),
		tags:      make(map[reflect.Type]Tag, len(b.tags)),
	}
	for tag, factory := range b.factories {
		r.factories[tag] = factory
	}
	for typ, tag := range b.tags {
		r.tags[typ] = tag
	}
	return r
}

// Registry maps envelope tags to variants. It is immutable once built and
// safe for concurrent use.
type Registry struct {
	factories map[Tag]Factory
	tags      map[reflect.Type]Tag
}

// Tags returns the registered tags sorted by kind and apiVersion.
func (r *Registry) Tags() []Tag {
	tags := make([]Tag, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Kind != tags[j].Kind {
			return tags[i].Kind < tags[j].Kind
		}
		return tags[i].APIVersion < tags[j].APIVersion
	})
	return tags
}

// TagOf returns the tag registered for v's type.
func (r *Registry) TagOf(v Variant) (Tag, bool) {
	tag, ok := r.tags[reflect.TypeOf(v)]
	return tag, ok
}

// New returns a fresh instance of the variant registered for tag.
func (r *Registry) New(tag Tag) (Variant, error) {
	factory, ok := r.factories[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, tag)
	}
	return factory(), nil
}

// Encode serializes v as a single flat JSON object containing kind,
// apiVersion and every field declared by the variant. Nil object fields are
// emitted as {}. Keys are emitted in sorted order although peers must not
// depend on it.
func (r *Registry) Encode(v Variant) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: <nil>", ErrUnregisteredVariant)
	}

	tag, ok := r.TagOf(v)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnregisteredVariant, v)
	}

	fields := v.Fields()
	doc := make(map[string]interface{}, len(fields)+2)
	for name, ptr := range fields {
		if obj, isObj := ptr.(*map[string]interface{}); isObj && *obj == nil {
			doc[name] = map[string]interface{}{}
			continue
		}
		doc[name] = ptr
	}
	doc[KeyKind] = tag.Kind
	doc[KeyAPIVersion] = tag.APIVersion

	return json.Marshal(doc)
}

// Decode parses data and constructs the variant selected by its kind and
// apiVersion. The returned error wraps ErrMalformedEnvelope,
// ErrUnknownVariant or ErrFieldMismatch.
func (r *Registry) Decode(data []byte) (Variant, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document is not a JSON object", ErrMalformedEnvelope)
	}

	kind, err := popString(doc, KeyKind)
	if err != nil {
		return nil, err
	}
	apiVersion, err := popString(doc, KeyAPIVersion)
	if err != nil {
		return nil, err
	}

	tag := Tag{Kind: kind, APIVersion: apiVersion}
	v, err := r.New(tag)
	if err != nil {
		return nil, err
	}

	fields := v.Fields()
	for name := range doc {
		if _, declared := fields[name]; !declared {
			return nil, fmt.Errorf("%w: %q does not declare field %q", ErrFieldMismatch, tag, name)
		}
	}
	for name, ptr := range fields {
		raw, present := doc[name]
		if !present {
			return nil, fmt.Errorf("%w: %q requires field %q", ErrFieldMismatch, tag, name)
		}
		if bytes.Equal(bytes.TrimSpace(raw), nullLiteral) {
			return nil, fmt.Errorf("%w: %q field %q is null", ErrFieldMismatch, tag, name)
		}
		if err := json.Unmarshal(raw, ptr); err != nil {
			return nil, fmt.Errorf("%w: %q field %q: %v", ErrFieldMismatch, tag, name, err)
		}
	}

	return v, nil
}

// popString extracts and removes a required string key from doc.
func popString(doc map[string]json.RawMessage, key string) (string, error) {
	raw, present := doc[key]
	if !present {
		return "", fmt.Errorf("%w: missing %q", ErrMalformedEnvelope, key)
	}
	delete(doc, key)

	var val string
	if err := json.Unmarshal(raw, &val); err != nil || val == "" {
		return "", fmt.Errorf("%w: %q must be a non-empty string", ErrMalformedEnvelope, key)
	}
	return val, nil
}
