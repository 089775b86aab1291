// Package provider contains configuration value providers that can be
// attached to a config store.
package provider

import (
	"os"
	"regexp"
	"strings"
)

// DefaultEnvPrefix is the envvar prefix used by the global config store.
const DefaultEnvPrefix = "KSON"

var (
	invalidCharRegex = regexp.MustCompile(`[\s\-/]`)

	// environ can be hooked by tests.
	environ = os.Environ
)

// EnvVars implements a configuration provider that fetches configuration values
// from the environment variables associated with the currently running process.
type EnvVars struct {
	prefix string
}

// NewEnvVars creates a new EnvVars provider that only considers envvars
// whose names start with prefix followed by an underscore. An empty prefix
// exposes every envvar.
func NewEnvVars(prefix string) *EnvVars {
	return &EnvVars{prefix: strings.Trim(strings.ToUpper(prefix), "_")}
}

// Get returns a map containing configuration values associated with a particular path.
//
// To match the standard envvar form, the path is normalized by converting it
// to uppercase and replacing path separators with underscores. The provider
// then selects the envvars whose names begin with the provider prefix and the
// normalized path. Map keys are built by stripping the prefix, lowercasing the
// remaining part of the name and replacing underscores with the path separator.
//
// For example, with prefix "KSON" and path "transport/http" the envvars
//
//   - KSON_TRANSPORT_HTTP_PORT=9090
//   - KSON_TRANSPORT_HTTP_HOST=example.com
//
// yield the configuration map:
//
//	{
//	 "port": "9090",
//	 "host": "example.com",
//	}
func (p *EnvVars) Get(path string) map[string]string {
	cfg := make(map[string]string)

	segments := make([]string, 0, 2)
	if p.prefix != "" {
		segments = append(segments, p.prefix)
	}
	if normalized := strings.Trim(strings.ToUpper(invalidCharRegex.ReplaceAllString(path, "_")), "_"); normalized != "" {
		segments = append(segments, normalized)
	}
	prefix := strings.Join(segments, "_")
	if prefix != "" {
		prefix += "_"
	}

	for _, envvar := range environ() {
		tokens := strings.SplitN(envvar, "=", 2)
		if len(tokens) != 2 || !strings.HasPrefix(tokens[0], prefix) || len(tokens[0]) == len(prefix) {
			continue
		}

		normalizedName := strings.Replace(strings.ToLower(strings.TrimPrefix(tokens[0], prefix)), "_", "/", -1)
		cfg[normalizedName] = tokens[1]
	}

	return cfg
}

// Watch is a no-op as the process environment is assumed to never change.
func (p *EnvVars) Watch(path string, valueSetter func(string, map[string]string)) func() {
	return func() {}
}
