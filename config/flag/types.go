package flag

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/achilleasa/kson/config/store"
)

var (
	errNotBoolean = errors.New("not a boolean value")
)

// String is a flag wrapping a string value.
type String struct {
	flagImpl
}

// NewString creates a string flag holding defValue. If cfgPath is not empty
// the flag tracks that key in s.
func NewString(s *store.Store, cfgPath, defValue string) *String {
	f := &String{}
	f.init(s, f.mapCfgValue, cfgPath, defValue)
	return f
}

// Get returns the current flag value.
func (f *String) Get() string {
	return f.get().(string)
}

// Set the stored flag value. Setting a different value emits a change event.
func (f *String) Set(val string) {
	f.set(val, true)
}

func (f *String) mapCfgValue(cfg map[string]string) (interface{}, error) {
	return firstMapElement(cfg), nil
}

// Bool is a flag wrapping a boolean value. Config values "true" and "1" map
// to true and "false" and "0" map to false (case-insensitive).
type Bool struct {
	flagImpl
}

// NewBool creates a bool flag holding defValue. If cfgPath is not empty the
// flag tracks that key in s.
func NewBool(s *store.Store, cfgPath string, defValue bool) *Bool {
	f := &Bool{}
	f.init(s, f.mapCfgValue, cfgPath, defValue)
	return f
}

// Get returns the current flag value.
func (f *Bool) Get() bool {
	return f.get().(bool)
}

// Set the stored flag value. Setting a different value emits a change event.
func (f *Bool) Set(val bool) {
	f.set(val, true)
}

func (f *Bool) mapCfgValue(cfg map[string]string) (interface{}, error) {
	switch strings.ToLower(firstMapElement(cfg)) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return nil, errNotBoolean
	}
}

// Int64 is a flag wrapping an int64 value.
type Int64 struct {
	flagImpl
}

// NewInt64 creates an int64 flag holding defValue. If cfgPath is not empty
// the flag tracks that key in s.
func NewInt64(s *store.Store, cfgPath string, defValue int64) *Int64 {
	f := &Int64{}
	f.init(s, f.mapCfgValue, cfgPath, defValue)
	return f
}

// Get returns the current flag value.
func (f *Int64) Get() int64 {
	return f.get().(int64)
}

// Set the stored flag value. Setting a different value emits a change event.
func (f *Int64) Set(val int64) {
	f.set(val, true)
}

func (f *Int64) mapCfgValue(cfg map[string]string) (interface{}, error) {
	v, err := strconv.ParseInt(firstMapElement(cfg), 10, 64)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Uint32 is a flag wrapping a uint32 value.
type Uint32 struct {
	flagImpl
}

// NewUint32 creates a uint32 flag holding defValue. If cfgPath is not empty
// the flag tracks that key in s.
func NewUint32(s *store.Store, cfgPath string, defValue uint32) *Uint32 {
	f := &Uint32{}
	f.init(s, f.mapCfgValue, cfgPath, defValue)
	return f
}

// Get returns the current flag value.
func (f *Uint32) Get() uint32 {
	return f.get().(uint32)
}

// Set the stored flag value. Setting a different value emits a change event.
func (f *Uint32) Set(val uint32) {
	f.set(val, true)
}

func (f *Uint32) mapCfgValue(cfg map[string]string) (interface{}, error) {
	v, err := strconv.ParseUint(firstMapElement(cfg), 10, 32)
	if err != nil {
		return nil, err
	}
	return uint32(v), nil
}

// Duration is a flag wrapping a time.Duration. Config values use the
// time.ParseDuration syntax ("1.5s", "10m").
type Duration struct {
	flagImpl
}

// NewDuration creates a duration flag holding defValue. If cfgPath is not
// empty the flag tracks that key in s.
func NewDuration(s *store.Store, cfgPath string, defValue time.Duration) *Duration {
	f := &Duration{}
	f.init(s, f.mapCfgValue, cfgPath, defValue)
	return f
}

// Get returns the current flag value.
func (f *Duration) Get() time.Duration {
	return f.get().(time.Duration)
}

// Set the stored flag value. Setting a different value emits a change event.
func (f *Duration) Set(val time.Duration) {
	f.set(val, true)
}

func (f *Duration) mapCfgValue(cfg map[string]string) (interface{}, error) {
	return time.ParseDuration(firstMapElement(cfg))
}

// Map is a flag wrapping all values stored under a config path. Keys are
// relative to the path.
type Map struct {
	flagImpl
}

// NewMap creates a map flag. If cfgPath is not empty the flag tracks the
// subtree rooted at cfgPath in s.
func NewMap(s *store.Store, cfgPath string) *Map {
	f := &Map{}
	f.init(s, f.mapCfgValue, cfgPath, map[string]string{})
	return f
}

// Get returns the current flag value. Callers must not modify the map.
func (f *Map) Get() map[string]string {
	return f.get().(map[string]string)
}

// Set the stored flag value. Setting a different value emits a change event.
func (f *Map) Set(val map[string]string) {
	f.set(val, true)
}

func (f *Map) mapCfgValue(cfg map[string]string) (interface{}, error) {
	return cfg, nil
}
