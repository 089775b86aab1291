package json

import (
	"bytes"
	"reflect"
	"testing"
)

type invocation struct {
	Path   string                 `json:"path"`
	Action string                 `json:"action"`
	Args   map[string]interface{} `json:"args"`
}

func TestMarshalerSortsMapKeys(t *testing.T) {
	value := &invocation{
		Path:   "/things",
		Action: "create",
		Args:   map[string]interface{}{"b": 2.0, "a": "x"},
	}

	data, err := Codec().Marshaler()(value)
	if err != nil {
		t.Fatal(err)
	}

	expData := `{"path":"/things","action":"create","args":{"a":"x","b":2}}`
	if string(data) != expData {
		t.Fatalf("expected marshaled data to be %q; got %q", expData, string(data))
	}
}

func TestUnmarshaler(t *testing.T) {
	expValue := &invocation{
		Path:   "/things",
		Action: "create",
		Args: map[string]interface{}{
			"nested": map[string]interface{}{"n": 1.5},
			"list":   []interface{}{"a", true},
		},
	}

	got := &invocation{}
	err := Codec().Unmarshaler()([]byte(`{"path":"/things","action":"create","args":{"nested":{"n":1.5},"list":["a",true]}}`), got)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(got, expValue) {
		t.Fatalf("expected unmarshaled object to be:\n%#+v\n\ngot:\n%#+v", expValue, got)
	}
}

func TestValidAndEncode(t *testing.T) {
	if !Valid([]byte(`{"kind":"Request"}`)) {
		t.Fatal("expected document to be valid JSON")
	}
	if Valid([]byte(`{"kind":`)) {
		t.Fatal("expected truncated document to be invalid JSON")
	}

	var buf bytes.Buffer
	if err := Encode(&buf, map[string]string{"k": "v"}); err != nil {
		t.Fatal(err)
	}
	if got := string(bytes.TrimSpace(buf.Bytes())); got != `{"k":"v"}` {
		t.Fatalf("expected encoded output %q; got %q", `{"k":"v"}`, got)
	}

	if name := Codec().Name(); name != "json" {
		t.Fatalf("expected codec name %q; got %q", "json", name)
	}
}
