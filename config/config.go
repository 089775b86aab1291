// Package config exposes the process-wide configuration store used by the
// kson components and helpers for creating flags bound to it.
//
// Components register their defaults with SetDefaults (version 0). The
// environment provider is attached at init time, so KSON_* envvars override
// the defaults; LoadFile attaches a JSONC file provider that overrides both.
package config

import (
	"github.com/achilleasa/kson/config/provider"
	"github.com/achilleasa/kson/config/store"
)

var (
	// Store is a global configuration store instance that is used to configure
	// the various kson components.
	Store store.Store
)

// SetDefaults updates the global store instance with the default values for a
// particular configuration path.
func SetDefaults(path string, cfg map[string]string) error {
	_, err := Store.SetKeys(0, path, cfg)
	return err
}

// LoadFile attaches a JSONC configuration file to the global store. Values
// from the file take precedence over envvars and defaults.
func LoadFile(path string) error {
	f, err := provider.NewFile(path)
	if err != nil {
		return err
	}
	Store.RegisterValueProvider(f)
	return nil
}

func init() {
	Store.RegisterValueProvider(provider.NewEnvVars(provider.DefaultEnvPrefix))
}
