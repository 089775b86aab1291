package config

import (
	"time"

	"github.com/achilleasa/kson/config/flag"
)

// BoolFlag creates a bool flag associated with the global config store. If a
// non-empty config path is specified, the flag will automatically update its value
// when the store value changes.
func BoolFlag(cfgPath string, defValue bool) *flag.Bool {
	return flag.NewBool(&Store, cfgPath, defValue)
}

// Int64Flag creates an int64 flag associated with the global config store.
func Int64Flag(cfgPath string, defValue int64) *flag.Int64 {
	return flag.NewInt64(&Store, cfgPath, defValue)
}

// Uint32Flag creates a uint32 flag associated with the global config store.
func Uint32Flag(cfgPath string, defValue uint32) *flag.Uint32 {
	return flag.NewUint32(&Store, cfgPath, defValue)
}

// StringFlag creates a string flag associated with the global config store.
func StringFlag(cfgPath, defValue string) *flag.String {
	return flag.NewString(&Store, cfgPath, defValue)
}

// DurationFlag creates a duration flag associated with the global config store.
func DurationFlag(cfgPath string, defValue time.Duration) *flag.Duration {
	return flag.NewDuration(&Store, cfgPath, defValue)
}

// MapFlag creates a map flag associated with the global config store. The
// flag tracks every value stored under cfgPath.
func MapFlag(cfgPath string) *flag.Map {
	return flag.NewMap(&Store, cfgPath)
}
