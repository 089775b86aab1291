package envelope

import (
	"math"
	"sort"
	"time"
)

// APIVersionV1 is the only protocol version defined so far.
const APIVersionV1 = "kson/v1"

// The kson/v1 kinds.
const (
	KindRequest    = "Request"
	KindResponse   = "Response"
	KindService    = "Service"
	KindCollection = "Collection"
	KindCursor     = "Cursor"
	KindFuture     = "Future"
)

// Names of the fields shared by all kson/v1 variants.
const (
	FieldMetadata   = "metadata"
	FieldState      = "state"
	FieldAttributes = "attributes"
)

// Metadata, state and attribute keys with a meaning defined by the protocol.
const (
	MetaURL         = "url"
	MetaLinks       = "links"
	MetaActions     = "actions"
	MetaFields      = "fields"
	MetaKeys        = "keys"
	MetaKey         = "key"
	MetaCollection  = "collection"
	MetaSelector    = "selector"
	MetaNext        = "next"
	MetaWaitSeconds = "wait_seconds"

	StateOK    = "ok"
	StateError = "error"
	StateCode  = "code"

	AttrContent = "content"
	AttrItems   = "items"
)

// Default is the registry holding the kson/v1 variants.
var Default = NewBuilder().
	MustRegister(Tag{KindRequest, APIVersionV1}, func() Variant { return &Request{} }).
	MustRegister(Tag{KindResponse, APIVersionV1}, func() Variant { return &Response{} }).
	MustRegister(Tag{KindService, APIVersionV1}, func() Variant { return &Service{} }).
	MustRegister(Tag{KindCollection, APIVersionV1}, func() Variant { return &Collection{} }).
	MustRegister(Tag{KindCursor, APIVersionV1}, func() Variant { return &Cursor{} }).
	MustRegister(Tag{KindFuture, APIVersionV1}, func() Variant { return &Future{} }).
	Build()

// Encode serializes v using the Default registry.
func Encode(v Variant) ([]byte, error) {
	return Default.Encode(v)
}

// Decode parses data using the Default registry.
func Decode(data []byte) (Variant, error) {
	return Default.Decode(data)
}

// Document holds the three fields carried by every kson/v1 variant. Values
// stored in the maps should be JSON-native (string, float64, bool, nil,
// []interface{} and map[string]interface{}) so that a decoded copy compares
// equal to the original.
type Document struct {
	Metadata   map[string]interface{}
	State      map[string]interface{}
	Attributes map[string]interface{}
}

// Fields implements Variant.
func (d *Document) Fields() map[string]interface{} {
	return map[string]interface{}{
		FieldMetadata:   &d.Metadata,
		FieldState:      &d.State,
		FieldAttributes: &d.Attributes,
	}
}

func newDocument() Document {
	return Document{
		Metadata:   map[string]interface{}{},
		State:      map[string]interface{}{},
		Attributes: map[string]interface{}{},
	}
}

// URL returns the metadata url of the document or an empty string.
func (d *Document) URL() string {
	return stringValue(d.Metadata[MetaURL])
}

// Request carries the arguments of an action invocation in its attributes.
type Request struct {
	Document
}

// NewRequest creates a Request whose attributes are the supplied arguments.
func NewRequest(args map[string]interface{}) *Request {
	r := &Request{Document: newDocument()}
	for k, v := range args {
		r.Attributes[k] = v
	}
	return r
}

// Arguments returns the call arguments.
func (r *Request) Arguments() map[string]interface{} {
	if r.Attributes == nil {
		return map[string]interface{}{}
	}
	return r.Attributes
}

// Response carries the result of an action invocation. Successful responses
// have state {"ok": true} and hold the return value under
// attributes.content; failed responses have state {"ok": false, "error": msg}.
type Response struct {
	Document
}

// NewResponse creates a successful Response wrapping content.
func NewResponse(content interface{}) *Response {
	r := &Response{Document: newDocument()}
	r.State[StateOK] = true
	r.Attributes[AttrContent] = content
	return r
}

// NewErrorResponse creates a failed Response with the supplied description.
func NewErrorResponse(msg string) *Response {
	r := &Response{Document: newDocument()}
	r.State[StateOK] = false
	r.State[StateError] = msg
	return r
}

// NewCodedErrorResponse creates a failed Response that also carries a
// machine-readable error code in its state.
func NewCodedErrorResponse(code, msg string) *Response {
	r := NewErrorResponse(msg)
	r.State[StateCode] = code
	return r
}

// OK reports whether the response signals success.
func (r *Response) OK() bool {
	ok, _ := r.State[StateOK].(bool)
	return ok
}

// Error returns the error description of a failed response.
func (r *Response) Error() string {
	return stringValue(r.State[StateError])
}

// Code returns the error code of a failed response or an empty string.
func (r *Response) Code() string {
	return stringValue(r.State[StateCode])
}

// Content returns the wrapped return value.
func (r *Response) Content() interface{} {
	return r.Attributes[AttrContent]
}

// Service describes an addressable object, its actions and related resources.
type Service struct {
	Document
}

// NewService creates a Service envelope. links maps relation names to URLs
// and actions maps action names to their argument specification.
func NewService(url string, links map[string]string, actions map[string]map[string]interface{}) *Service {
	s := &Service{Document: newDocument()}
	s.Metadata[MetaURL] = url

	linkMeta := make(map[string]interface{}, len(links))
	for name, rel := range links {
		linkMeta[name] = rel
	}
	s.Metadata[MetaLinks] = linkMeta

	actionMeta := make(map[string]interface{}, len(actions))
	for name, spec := range actions {
		actionMeta[name] = copyObject(spec)
	}
	s.Metadata[MetaActions] = actionMeta
	return s
}

// Links returns the relation name to URL mapping.
func (s *Service) Links() map[string]string {
	out := make(map[string]string)
	for name, rel := range objectValue(s.Metadata[MetaLinks]) {
		out[name] = stringValue(rel)
	}
	return out
}

// Actions returns the action name to argument spec mapping.
func (s *Service) Actions() map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{})
	for name, spec := range objectValue(s.Metadata[MetaActions]) {
		out[name] = objectValue(spec)
	}
	return out
}

// ActionNames returns the sorted list of action names.
func (s *Service) ActionNames() []string {
	return sortedKeys(objectValue(s.Metadata[MetaActions]))
}

// Collection describes a paged, queryable set of items.
type Collection struct {
	Document
}

// NewCollection creates a Collection envelope. fields is the argument spec
// for creating items, keys lists the indexable field names and key names the
// primary key.
func NewCollection(url string, fields map[string]interface{}, keys []string, key string) *Collection {
	c := &Collection{Document: newDocument()}
	c.Metadata[MetaURL] = url
	c.Metadata[MetaFields] = copyObject(fields)
	c.Metadata[MetaKeys] = stringsToList(keys)
	c.Metadata[MetaKey] = key
	return c
}

// FieldSpec returns the create-argument specification.
func (c *Collection) FieldSpec() map[string]interface{} {
	return objectValue(c.Metadata[MetaFields])
}

// Keys returns the indexable field names.
func (c *Collection) Keys() []string {
	return listToStrings(c.Metadata[MetaKeys])
}

// Key returns the primary key name.
func (c *Collection) Key() string {
	return stringValue(c.Metadata[MetaKey])
}

// Cursor is a continuation token for paging through a collection. The items
// of the current page are stored under attributes.items.
type Cursor struct {
	Document
}

// NewCursor creates a Cursor envelope. An empty next marks the last page.
func NewCursor(url, collection string, selector map[string]interface{}, next string, items []interface{}) *Cursor {
	c := &Cursor{Document: newDocument()}
	c.Metadata[MetaURL] = url
	c.Metadata[MetaCollection] = collection
	c.Metadata[MetaSelector] = copyObject(selector)
	if next == "" {
		c.Metadata[MetaNext] = nil
	} else {
		c.Metadata[MetaNext] = next
	}
	if items == nil {
		items = []interface{}{}
	}
	c.Attributes[AttrItems] = items
	return c
}

// Collection returns the id of the owning collection.
func (c *Cursor) Collection() string {
	return stringValue(c.Metadata[MetaCollection])
}

// Selector returns the query state that produced this page.
func (c *Cursor) Selector() map[string]interface{} {
	return objectValue(c.Metadata[MetaSelector])
}

// Next returns the location of the next page and false when the cursor is
// exhausted (next absent or null).
func (c *Cursor) Next() (string, bool) {
	next := stringValue(c.Metadata[MetaNext])
	return next, next != ""
}

// Items returns the items of the current page.
func (c *Cursor) Items() []interface{} {
	items, _ := c.Attributes[AttrItems].([]interface{})
	return items
}

// Future is a placeholder for a result that is not ready yet.
type Future struct {
	Document
}

// NewFuture creates a Future envelope pointing at url with a suggested
// polling backoff.
func NewFuture(url string, wait time.Duration) *Future {
	f := &Future{Document: newDocument()}
	f.Metadata[MetaURL] = url
	f.Metadata[MetaWaitSeconds] = wait.Seconds()
	return f
}

// Wait returns the suggested backoff before polling the future again.
// Negative or invalid hints are reported as zero.
func (f *Future) Wait() time.Duration {
	secs, _ := f.Metadata[MetaWaitSeconds].(float64)
	if secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

func objectValue(v interface{}) map[string]interface{} {
	obj, _ := v.(map[string]interface{})
	if obj == nil {
		return map[string]interface{}{}
	}
	return obj
}

func copyObject(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func stringsToList(in []string) []interface{} {
	out := make([]interface{}, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}

func listToStrings(v interface{}) []string {
	list, _ := v.([]interface{})
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
