// Package kson holds the process-wide defaults shared by kson servers and
// clients.
package kson

import (
	"github.com/achilleasa/kson/server/futures"
	"github.com/achilleasa/kson/transport"
	"github.com/achilleasa/kson/transport/http"
)

var (
	// DefaultTransportFactory is a function that returns back a new
	// instance of the default kson transport.
	//
	// When kson is imported, DefaultTransportFactory is set up to return
	// HTTP transport instances.
	DefaultTransportFactory func() transport.Provider

	// DefaultFutureStoreFactory returns the store where servers park
	// deferred invocations. It defaults to futures.FromConfig which selects
	// a memory or redis store based on the server/futures config keys.
	DefaultFutureStoreFactory func() (futures.Store, error)
)

func init() {
	DefaultTransportFactory = http.Factory
	DefaultFutureStoreFactory = futures.FromConfig
}
