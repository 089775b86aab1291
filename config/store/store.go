// Package store implements a thread-safe versioned configuration store.
package store

import (
	"fmt"
	"strings"
	"sync"
)

const pathDelimiter = "/"

// UnsubscribeFunc cancels a change watcher associated with a configuration store.
// After the first call, subsequent calls to UnsubscribeFunc have no effect.
type UnsubscribeFunc func()

type changeWatcher struct {
	id   int
	path string

	// A buffered channel where configuration changes are published. Updates
	// that find the buffer full replace the queued value so watchers always
	// observe the latest configuration.
	changeChan chan map[string]string
}

type entry struct {
	value   string
	version int
}

// Store implements a versioned and thread-safe configuration store. Values
// are strings addressed by "/" separated keys such as "transport/http/port".
//
// Every value carries the version of the set operation that wrote it. A set
// only replaces a value when its version is greater than or equal to the
// stored version. Defaults are written with version 0 and each registered
// ValueProvider writes with a higher version, so providers overlay defaults
// and later providers overlay earlier ones.
//
// The zero value is an empty store ready for use.
type Store struct {
	mutex         sync.Mutex
	values        map[string]entry
	watchers      []*changeWatcher
	nextWatcherID int
	providers     []ValueProvider
	unwatchFns    []func()
}

// Reset deletes the store's contents, closes any change watchers and detaches
// the registered value providers.
func (s *Store) Reset() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, fn := range s.unwatchFns {
		fn()
	}
	for _, w := range s.watchers {
		close(w.changeChan)
	}

	s.values = nil
	s.watchers = nil
	s.providers = nil
	s.unwatchFns = nil
}

// Get returns the values stored under path. Map keys are relative to path.
// If path points to a single value, the returned map contains one entry keyed
// by the last path segment. If nothing is stored under path, Get returns an
// empty map.
//
// Paths "/foo", "foo/" and "/foo/" are equivalent.
func (s *Store) Get(path string) map[string]string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.get(normalize(path))
}

// SetKey sets the value at path if version is greater than or equal to the
// version of the stored value. It returns true if the store was modified.
func (s *Store) SetKey(version int, path, value string) (storeUpdated bool, err error) {
	return s.SetKeys(version, path, map[string]string{"": value})
}

// SetKeys applies a set of values whose keys are relative to path using the
// same version rules as SetKey. An empty key addresses path itself.
//
// It returns true if any of the supplied values modified the store.
func (s *Store) SetKeys(version int, path string, values map[string]string) (storeUpdated bool, err error) {
	if len(values) == 0 {
		return false, nil
	}

	path = normalize(path)
	resolved := make(map[string]string, len(values))
	for key, value := range values {
		fullPath := normalize(path + pathDelimiter + key)
		if fullPath == "" {
			return false, fmt.Errorf("supplied value map contains an empty path key")
		}
		if strings.Contains(strings.Trim(path+pathDelimiter+key, pathDelimiter), "//") {
			return false, fmt.Errorf("supplied value map contains empty segment for path %q", key)
		}
		resolved[fullPath] = value
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.values == nil {
		s.values = make(map[string]entry)
	}

	var changed []string
	for fullPath, value := range resolved {
		cur, exists := s.values[fullPath]
		if exists && cur.version > version {
			continue
		}
		s.values[fullPath] = entry{value: value, version: version}
		if !exists || cur.value != value {
			changed = append(changed, fullPath)
		}
	}

	if len(changed) != 0 {
		s.notifyWatchers(changed)
	}

	return len(changed) != 0, nil
}

// Watch registers a change watcher that is notified whenever a value stored
// under path is modified. It returns a read-only channel for receiving the
// updated configuration (equivalent to invoking Get(path)) as well as a
// function for deleting the watcher.
//
// Before returning, Watch pushes the current configuration for path into the
// buffered notification channel, so the first receive never blocks. Watching
// a path that does not exist yet yields an empty map.
func (s *Store) Watch(path string) (<-chan map[string]string, UnsubscribeFunc) {
	path = normalize(path)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.nextWatcherID++
	watcher := &changeWatcher{
		id:         s.nextWatcherID,
		path:       path,
		changeChan: make(chan map[string]string, 1),
	}
	watcher.changeChan <- s.get(path)
	s.watchers = append(s.watchers, watcher)

	return watcher.changeChan, s.unwatch(watcher.id)
}

// RegisterValueProvider attaches a value provider to the store. The
// provider's values are written with a version higher than any provider
// registered before it and the store subscribes to provider updates.
func (s *Store) RegisterValueProvider(provider ValueProvider) {
	s.mutex.Lock()
	s.providers = append(s.providers, provider)
	version := len(s.providers)
	s.mutex.Unlock()

	s.SetKeys(version, "", provider.Get(""))

	unwatch := provider.Watch("", func(path string, values map[string]string) {
		s.SetKeys(version, path, values)
	})

	s.mutex.Lock()
	s.unwatchFns = append(s.unwatchFns, unwatch)
	s.mutex.Unlock()
}

func (s *Store) unwatch(watcherID int) UnsubscribeFunc {
	return func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()

		for index, watcher := range s.watchers {
			if watcher.id != watcherID {
				continue
			}

			close(watcher.changeChan)
			s.watchers = append(s.watchers[:index], s.watchers[index+1:]...)
			return
		}
	}
}

// notifyWatchers delivers the current configuration to every watcher whose
// path covers one of the changed keys. Must be called while holding the mutex.
func (s *Store) notifyWatchers(changed []string) {
	for _, watcher := range s.watchers {
		if !coversAny(watcher.path, changed) {
			continue
		}

		// Each watcher gets its own map so that no watcher can modify the
		// values that other watchers receive.
		values := s.get(watcher.path)
		select {
		case <-watcher.changeChan:
		default:
		}
		watcher.changeChan <- values
	}
}

// get must be called while holding the mutex.
func (s *Store) get(path string) map[string]string {
	out := make(map[string]string)

	if path == "" {
		for key, e := range s.values {
			out[key] = e.value
		}
		return out
	}

	if e, exists := s.values[path]; exists {
		out[path[strings.LastIndex(path, pathDelimiter)+1:]] = e.value
	}

	prefix := path + pathDelimiter
	for key, e := range s.values {
		if strings.HasPrefix(key, prefix) {
			out[strings.TrimPrefix(key, prefix)] = e.value
		}
	}
	return out
}

func coversAny(watchPath string, changed []string) bool {
	if watchPath == "" {
		return true
	}
	for _, key := range changed {
		if key == watchPath || strings.HasPrefix(key, watchPath+pathDelimiter) {
			return true
		}
	}
	return false
}

// normalize trims leading and trailing delimiters.
func normalize(path string) string {
	return strings.Trim(path, pathDelimiter)
}
