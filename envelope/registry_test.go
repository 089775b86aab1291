package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	Document
}

type otherWidget struct {
	Document
}

type pointerless struct{}

func (pointerless) Fields() map[string]interface{} {
	return map[string]interface{}{"value": 1}
}

type reserved struct{ kind string }

func (r *reserved) Fields() map[string]interface{} {
	return map[string]interface{}{KeyKind: &r.kind}
}

func TestBuilderRejectsDuplicateTag(t *testing.T) {
	b := NewBuilder()
	tag := Tag{Kind: "Widget", APIVersion: "test/v1"}

	require.NoError(t, b.Register(tag, func() Variant { return &widget{} }))

	err := b.Register(tag, func() Variant { return &otherWidget{} })
	assert.ErrorIs(t, err, ErrDuplicateRegistration)
}

func TestBuilderRejectsDuplicateType(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Register(Tag{Kind: "Widget", APIVersion: "test/v1"}, func() Variant { return &widget{} }))

	err := b.Register(Tag{Kind: "Widget", APIVersion: "test/v2"}, func() Variant { return &widget{} })
	assert.ErrorIs(t, err, ErrDuplicateRegistration)
}

func TestBuilderRejectsInvalidEntries(t *testing.T) {
	specs := []struct {
		name    string
		tag     Tag
		factory Factory
	}{
		{"empty kind", Tag{APIVersion: "test/v1"}, func() Variant { return &widget{} }},
		{"empty apiVersion", Tag{Kind: "Widget"}, func() Variant { return &widget{} }},
		{"nil factory", Tag{Kind: "Widget", APIVersion: "test/v1"}, nil},
		{"nil variant", Tag{Kind: "Widget", APIVersion: "test/v1"}, func() Variant { return nil }},
		{"non-pointer field", Tag{Kind: "Widget", APIVersion: "test/v1"}, func() Variant { return pointerless{} }},
		{"reserved field", Tag{Kind: "Widget", APIVersion: "test/v1"}, func() Variant { return &reserved{} }},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			err := NewBuilder().Register(spec.tag, spec.factory)
			assert.ErrorIs(t, err, ErrInvalidRegistration)
		})
	}
}

func TestMustRegisterPanics(t *testing.T) {
	b := NewBuilder().MustRegister(Tag{Kind: "Widget", APIVersion: "test/v1"}, func() Variant { return &widget{} })

	assert.Panics(t, func() {
		b.MustRegister(Tag{Kind: "Widget", APIVersion: "test/v1"}, func() Variant { return &otherWidget{} })
	})
}

func TestBuildIsolatesRegistry(t *testing.T) {
	b := NewBuilder().MustRegister(Tag{Kind: "Widget", APIVersion: "test/v1"}, func() Variant { return &widget{} })
	reg := b.Build()

	b.MustRegister(Tag{Kind: "Other", APIVersion: "test/v1"}, func() Variant { return &otherWidget{} })

	assert.Equal(t, []Tag{{Kind: "Widget", APIVersion: "test/v1"}}, reg.Tags())
	_, err := reg.New(Tag{Kind: "Other", APIVersion: "test/v1"})
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestDefaultRegistryTags(t *testing.T) {
	expTags := []Tag{
		{KindCollection, APIVersionV1},
		{KindCursor, APIVersionV1},
		{KindFuture, APIVersionV1},
		{KindRequest, APIVersionV1},
		{KindResponse, APIVersionV1},
		{KindService, APIVersionV1},
	}
	assert.Equal(t, expTags, Default.Tags())
}

func TestEncodeIncludesTag(t *testing.T) {
	data, err := Encode(NewResponse("hi"))
	require.NoError(t, err)

	exp := `{"apiVersion":"kson/v1","attributes":{"content":"hi"},"kind":"Response","metadata":{},"state":{"ok":true}}`
	assert.JSONEq(t, exp, string(data))
}

func TestEncodeNilFieldsAsEmptyObjects(t *testing.T) {
	data, err := Encode(&Request{})
	require.NoError(t, err)

	assert.JSONEq(t, `{"kind":"Request","apiVersion":"kson/v1","metadata":{},"state":{},"attributes":{}}`, string(data))
}

func TestEncodeUnregistered(t *testing.T) {
	_, err := Encode(&widget{})
	assert.ErrorIs(t, err, ErrUnregisteredVariant)

	_, err = Encode(nil)
	assert.ErrorIs(t, err, ErrUnregisteredVariant)
}

func TestDecodeErrors(t *testing.T) {
	specs := []struct {
		name   string
		input  string
		expErr error
	}{
		{"not json", `{`, ErrMalformedEnvelope},
		{"array", `[1,2]`, ErrMalformedEnvelope},
		{"null", `null`, ErrMalformedEnvelope},
		{"missing tag", `{"metadata":{}}`, ErrMalformedEnvelope},
		{"missing apiVersion", `{"kind":"Service","metadata":{},"state":{},"attributes":{}}`, ErrMalformedEnvelope},
		{"non-string kind", `{"kind":5,"apiVersion":"kson/v1"}`, ErrMalformedEnvelope},
		{"empty kind", `{"kind":"","apiVersion":"kson/v1"}`, ErrMalformedEnvelope},
		{"unknown kind", `{"kind":"Bogus","apiVersion":"kson/v1"}`, ErrUnknownVariant},
		{"unknown version", `{"kind":"Service","apiVersion":"kson/v9","metadata":{},"state":{},"attributes":{}}`, ErrUnknownVariant},
		{"extra field", `{"kind":"Service","apiVersion":"kson/v1","metadata":{},"state":{},"attributes":{},"spec":{}}`, ErrFieldMismatch},
		{"missing field", `{"kind":"Service","apiVersion":"kson/v1","metadata":{},"state":{}}`, ErrFieldMismatch},
		{"null field", `{"kind":"Service","apiVersion":"kson/v1","metadata":null,"state":{},"attributes":{}}`, ErrFieldMismatch},
		{"wrong shape", `{"kind":"Service","apiVersion":"kson/v1","metadata":"x","state":{},"attributes":{}}`, ErrFieldMismatch},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			v, err := Decode([]byte(spec.input))
			assert.Nil(t, v)
			assert.ErrorIs(t, err, spec.expErr)
		})
	}
}

func TestDecodeSelectsVariant(t *testing.T) {
	input := `{"kind":"Future","apiVersion":"kson/v1","metadata":{"url":"/.futures?id=1","wait_seconds":1.5},"state":{},"attributes":{}}`

	v, err := Decode([]byte(input))
	require.NoError(t, err)

	f, ok := v.(*Future)
	require.True(t, ok, "expected *Future; got %T", v)
	assert.Equal(t, "/.futures?id=1", f.URL())
	assert.Equal(t, "1.5s", f.Wait().String())
}

func TestCustomRegistryRoundTrip(t *testing.T) {
	tag := Tag{Kind: "Widget", APIVersion: "test/v1"}
	reg := NewBuilder().MustRegister(tag, func() Variant { return &widget{} }).Build()

	in := &widget{Document: Document{Metadata: map[string]interface{}{"n": 1.0}}}
	data, err := reg.Encode(in)
	require.NoError(t, err)

	out, err := reg.Decode(data)
	require.NoError(t, err)

	gotTag, ok := reg.TagOf(out)
	require.True(t, ok)
	assert.Equal(t, tag, gotTag)
	assert.Equal(t, map[string]interface{}{"n": 1.0}, out.(*widget).Metadata)
	assert.Equal(t, map[string]interface{}{}, out.(*widget).State)

	// Default registry does not know the widget tag.
	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrUnknownVariant)
}
