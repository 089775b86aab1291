package provider

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/achilleasa/kson/encoding/json"
)

// File is a configuration provider backed by a JSON document. The document
// may use the JSONC extensions (comments and trailing commas). Nested objects
// are flattened into "/" separated keys:
//
//	{
//	  // local overrides
//	  "transport": {"http": {"port": 9090}},
//	}
//
// yields "transport/http/port" = "9090". Scalars are converted to their JSON
// text, strings are kept verbatim, nulls are skipped and arrays are stored as
// their JSON encoding.
type File struct {
	values map[string]string
}

// NewFile loads a configuration file.
func NewFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return ParseFile(data)
}

// ParseFile builds a File provider from in-memory JSONC contents.
func ParseFile(data []byte) (*File, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("config: invalid JSONC: %w", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(std, &doc); err != nil {
		return nil, fmt.Errorf("config: invalid JSON document: %w", err)
	}

	f := &File{values: make(map[string]string)}
	if err := flatten("", doc, f.values); err != nil {
		return nil, err
	}
	return f, nil
}

// Keys returns the sorted list of flattened keys.
func (f *File) Keys() []string {
	keys := make([]string, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the values stored under path with keys relative to path.
func (f *File) Get(path string) map[string]string {
	path = strings.Trim(path, "/")
	cfg := make(map[string]string)
	for key, value := range f.values {
		switch {
		case path == "":
			cfg[key] = value
		case key == path:
			cfg[key[strings.LastIndex(key, "/")+1:]] = value
		case strings.HasPrefix(key, path+"/"):
			cfg[strings.TrimPrefix(key, path+"/")] = value
		}
	}
	return cfg
}

// Watch is a no-op; files are read once.
func (f *File) Watch(path string, valueSetter func(string, map[string]string)) func() {
	return func() {}
}

func flatten(prefix string, value interface{}, out map[string]string) error {
	switch v := value.(type) {
	case map[string]interface{}:
		for k, child := range v {
			if k == "" || strings.Contains(k, "/") {
				return fmt.Errorf("config: invalid key %q under %q", k, prefix)
			}
			key := k
			if prefix != "" {
				key = prefix + "/" + k
			}
			if err := flatten(key, child, out); err != nil {
				return err
			}
		}
	case nil:
	case string:
		out[prefix] = v
	case bool:
		out[prefix] = strconv.FormatBool(v)
	case float64:
		out[prefix] = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("config: encode %q: %w", prefix, err)
		}
		out[prefix] = string(data)
	}
	return nil
}
