// Package flag provides typed thread-safe flags whose values track keys of a
// configuration store.
package flag

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/achilleasa/kson/config/store"
)

type cfgEventToValueMapper func(map[string]string) (interface{}, error)

type flagImpl struct {
	// The wrapped value. It always holds a value of the flag's type.
	val atomic.Value

	// A channel for receiving notifications when the flag value changes.
	changedChan chan struct{}

	// Guards unsubscribe.
	mutex       sync.Mutex
	unsubscribe store.UnsubscribeFunc

	// A function for mapping incoming config events to a value that can be set.
	valueMapper cfgEventToValueMapper
}

// init stores the default value and, if cfgPath is not empty, subscribes to
// cfgPath on s. The current store value (if any) is applied synchronously so
// the flag is usable as soon as its constructor returns.
func (f *flagImpl) init(s *store.Store, valueMapper cfgEventToValueMapper, cfgPath string, defValue interface{}) {
	f.valueMapper = valueMapper
	f.changedChan = make(chan struct{}, 1)
	f.val.Store(defValue)

	if cfgPath == "" {
		return
	}
	if s == nil {
		panic("flag: nil store for config path " + cfgPath)
	}

	cfgChan, unsubscribe := s.Watch(cfgPath)
	f.unsubscribe = unsubscribe
	f.apply(<-cfgChan, false)

	go func() {
		for cfg := range cfgChan {
			f.apply(cfg, true)
		}
	}()
}

func (f *flagImpl) apply(cfg map[string]string, notify bool) {
	if len(cfg) == 0 {
		return
	}

	val, err := f.valueMapper(cfg)
	if err != nil {
		return
	}
	f.set(val, notify)
}

func (f *flagImpl) get() interface{} {
	return f.val.Load()
}

// set stores val and emits a change event if the value changed.
func (f *flagImpl) set(val interface{}, notify bool) {
	if reflect.DeepEqual(f.val.Load(), val) {
		return
	}
	f.val.Store(val)

	if !notify {
		return
	}

	select {
	case f.changedChan <- struct{}{}:
	default:
	}
}

// ChangeChan returns a channel where clients can listen for flag value change
// events. Events are coalesced; a reader observes at most one pending event.
func (f *flagImpl) ChangeChan() <-chan struct{} {
	return f.changedChan
}

// CancelDynamicUpdates disables dynamic flag updates from the configuration
// store. Calling it more than once has no effect.
func (f *flagImpl) CancelDynamicUpdates() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.unsubscribe == nil {
		return
	}
	f.unsubscribe()
	f.unsubscribe = nil
}

// firstMapElement returns the first element in a map. It is only meaningful
// for maps holding a single entry, which is what the store returns for a
// path pointing at a value.
func firstMapElement(m map[string]string) string {
	for _, v := range m {
		return v
	}
	return ""
}
