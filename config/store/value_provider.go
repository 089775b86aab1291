package store

// A ValueProvider is a pluggable repository of configuration values that can
// be attached to a configuration store.
//
// Get returns the configuration values stored under path with keys relative
// to path. Providers that have nothing for path return an empty or nil map.
//
// Watch instructs the provider to monitor path and invoke updateFunc with
// fresh values whenever they change. The returned function cancels the watch.
type ValueProvider interface {
	Get(path string) map[string]string
	Watch(path string, updateFunc func(path string, values map[string]string)) (unsubscribeFunc func())
}
