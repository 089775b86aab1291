// Package weightedrouting provides a client middleware that rewrites fetches
// for a mounted path to one of several versioned sub-paths by sampling the
// random number generator and consulting a routing table that assigns a
// weight to each version.
//
// The middleware obtains its configuration from the global configuration
// store and is meant to be used in conjunction with a dynamic configuration
// provider.
//
// Potential use-cases for this middleware include blue-green deployments
// (http://martinfowler.com/bliki/BlueGreenDeployment.html) and canary releases
// (http://martinfowler.com/bliki/CanaryRelease.html) where a new version of a
// service is mounted next to the old one and a small amount of traffic is
// routed to it so it can be tested.
//
// Only fetches whose path matches the routed path exactly are rewritten.
// Every URL advertised by the selected version (its actions, cursors and
// futures) points below the versioned path, so follow-up fetches stick to
// the version that served the first one.
package weightedrouting

import (
	"context"
	"math/rand"
	"net/url"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/achilleasa/kson/client"
	"github.com/achilleasa/kson/config"
	"github.com/achilleasa/kson/config/flag"
)

// Values overwritten by tests
var (
	setFinalizer = runtime.SetFinalizer
	randFloat32  = rand.Float32
	cfgStore     = &config.Store
)

// Factory generates a weighted-routing middleware factory that returns new
// weighted-router instances for the given mount path. Each instance obtains
// its weight configuration by monitoring keys under the namespace
// "weighted_router/$path". Each key under this namespace names a version and
// its value should contain the weight assigned to that version (0 to 1.0
// range). All weights should sum to 1.0.
//
// For example, to route 30% of the fetches for "/books" to "/books/v0" and
// 70% to "/books/v1", the following configuration keys need to be defined:
//   - weighted_router/books/v0 -> "0.3"
//   - weighted_router/books/v1 -> "0.7"
func Factory(path string) client.MiddlewareFactory {
	return func() client.Middleware {
		return newRouter(path)
	}
}

// route combines a route version and a weight for selecting that route.
type route struct {
	version string
	weight  float32
}

// router is a client middleware that rewrites the path of outgoing fetches
// by consulting a set of weights obtained via a dynamic configuration flag.
type router struct {
	path string

	// A RW mutex used for synchronizing access to the routing table.
	mutex sync.RWMutex

	// The list of versioned routes and their selection probabilites, sorted
	// by version.
	routes []route

	// A flag providing the weight configurations.
	weightCfg *flag.Map

	// A channel to signal the config monitor to exit.
	doneChan chan struct{}
}

// newRouter creates a weighted router instance that fetches its weights
// using the following configuration key: "weighted_router/$path".
func newRouter(path string) *router {
	path = "/" + strings.Trim(path, "/")
	wr := &router{
		path:      path,
		weightCfg: flag.NewMap(cfgStore, "weighted_router"+path),
		doneChan:  make(chan struct{}),
	}

	// fetch initial weights
	wr.updateWeights()
	wr.spawnChangeMonitor()
	setFinalizer(wr, func(wr *router) { close(wr.doneChan) })

	return wr
}

// spawnChangeMonitor starts a worker that listens for configuration weight
// changes and updates the middleware's routing table.
func (wr *router) spawnChangeMonitor() {
	go func() {
		for {
			select {
			case <-wr.doneChan:
				wr.weightCfg.CancelDynamicUpdates()
				return
			case <-wr.weightCfg.ChangeChan():
				wr.updateWeights()
			}
		}
	}()
}

// updateWeights fetches the latest routing weights configuration and updates
// the internal routes table. Entries with unparsable weights are skipped.
func (wr *router) updateWeights() {
	cfg := wr.weightCfg.Get()

	routes := make([]route, 0, len(cfg))
	for version, weightStr := range cfg {
		weight, err := strconv.ParseFloat(weightStr, 32)
		if err != nil || strings.Contains(version, "/") {
			continue
		}
		routes = append(routes, route{version, float32(weight)})
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].version < routes[j].version })

	wr.mutex.Lock()
	wr.routes = routes
	wr.mutex.Unlock()
}

// Pre implements a pre-hook as part of the client Middleware interface.
func (wr *router) Pre(ctx context.Context, f *client.Fetch) (context.Context, error) {
	u, err := url.Parse(f.URL)
	if err != nil || u.Path != wr.path {
		return ctx, nil
	}

	prob := randFloat32()

	wr.mutex.RLock()
	defer wr.mutex.RUnlock()

	var probIntegral float32
	for _, route := range wr.routes {
		probIntegral += route.weight

		if prob < probIntegral {
			u.Path = wr.path + "/" + route.version
			f.URL = u.String()
			break
		}
	}

	return ctx, nil
}

// Post implements a post-hook as part of the client Middleware interface.
func (wr *router) Post(_ context.Context, _ client.Fetch, _ []byte, _ error) {
}
