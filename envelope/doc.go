// Package envelope implements the kson wire format: flat JSON documents
// tagged with a kind and an apiVersion, mirroring Kubernetes-style API
// objects.
//
// A Registry maps each (kind, apiVersion) Tag to exactly one Variant. The
// table is assembled once with a Builder and is read-only afterwards, so
// lookups need no locking. Every Variant declares the wire fields it owns
// via its Fields method; Encode and Decode are pure functions of that
// declaration and decoding is strict: unknown fields, missing fields and
// fields with the wrong JSON shape are rejected instead of being dropped or
// defaulted.
//
// The six kson/v1 variants (Request, Response, Service, Collection, Cursor
// and Future) are pre-registered in the Default registry:
//
//	svc := envelope.NewService("/greeter", nil, map[string]map[string]interface{}{
//		"hello": {"name": "string"},
//	})
//	data, err := envelope.Encode(svc)
//	...
//	v, err := envelope.Decode(data)
//	switch v := v.(type) {
//	case *envelope.Service:
//		fmt.Println(v.URL(), v.Actions())
//	}
package envelope
