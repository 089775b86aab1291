package circuitbreaker

import (
	"strings"
	"time"

	"github.com/achilleasa/kson/config"
	"github.com/achilleasa/kson/config/flag"
	"github.com/achilleasa/kson/config/store"
	"github.com/achilleasa/kson/transport"
)

var (
	// DefaultTripErrors are the transport failures that point at an unhealthy
	// server. They are used when a config does not list its own TripErrors.
	DefaultTripErrors = []error{
		transport.ErrServiceUnavailable,
		transport.ErrTimeout,
		transport.ErrInternal,
	}

	// DefaultCoolOffPeriod applies when a config has no positive cool off
	// period.
	DefaultCoolOffPeriod = 1 * time.Second
)

// Config supplies the circuit-breaker settings. Thresholds are returned as
// flags so that they can change while the circuit-breaker is in use.
type Config interface {
	GetClosedError() error
	GetTripErrors() []error
	GetTripThreshold() *flag.Uint32
	GetCoolOffPeriod() *flag.Duration
	GetResetThreshold() *flag.Uint32
	GetStateChangeChan() chan<- State
}

// Shared holds the settings that static and dynamic configurations have in
// common. It is embedded by StaticConfig and DynamicConfig.
type Shared struct {
	// The error returned by the circuit-breaker when its tripped. If not
	// specified, the circuit-breaker will use transport.ErrServiceUnavailable.
	ClosedError error

	// Errors that can trip the circuit-breaker, matched with errors.Is and
	// then by message sub-string. Defaults to DefaultTripErrors.
	TripErrors []error

	// If defined, the circuit-breaker publishes each new state to this
	// channel. Writes never block; a state change with no listener ready is
	// dropped.
	StateChangeChan chan<- State
}

// GetClosedError implements Config.
func (c *Shared) GetClosedError() error { return c.ClosedError }

// GetTripErrors implements Config.
func (c *Shared) GetTripErrors() []error { return c.TripErrors }

// GetStateChangeChan implements Config.
func (c *Shared) GetStateChangeChan() chan<- State { return c.StateChangeChan }

// StaticConfig defines a circuit-breaker configuration with fixed
// thresholds.
type StaticConfig struct {
	Shared

	// Number of trip errors that switch the circuit-breaker from Open to
	// Closed.
	TripThreshold int

	// Time spent in the Closed state before switching to Half-Open. Zero
	// selects DefaultCoolOffPeriod.
	CoolOffPeriod time.Duration

	// Number of consecutive successes that switch the circuit-breaker from
	// Half-Open back to Open.
	ResetThreshold int
}

// GetTripThreshold implements Config.
func (c *StaticConfig) GetTripThreshold() *flag.Uint32 {
	return flag.NewUint32(nil, "", uint32(c.TripThreshold))
}

// GetCoolOffPeriod implements Config.
func (c *StaticConfig) GetCoolOffPeriod() *flag.Duration {
	return flag.NewDuration(nil, "", c.CoolOffPeriod)
}

// GetResetThreshold implements Config.
func (c *StaticConfig) GetResetThreshold() *flag.Uint32 {
	return flag.NewUint32(nil, "", uint32(c.ResetThreshold))
}

// DynamicConfig defines a circuit-breaker configuration whose thresholds are
// read from a configuration store and follow its updates. The following
// keys are looked up under ConfigPath:
//   - trip_threshold
//   - cool_off_period (time.ParseDuration syntax)
//   - reset_threshold
type DynamicConfig struct {
	Shared

	// The configuration store prefix for the keys above.
	ConfigPath string

	// The config store to use. If undefined it defaults to the global shared store.
	store *store.Store
}

// GetTripThreshold implements Config.
func (c *DynamicConfig) GetTripThreshold() *flag.Uint32 {
	return flag.NewUint32(c.getStore(), c.configPath("trip_threshold"), 0)
}

// GetCoolOffPeriod implements Config.
func (c *DynamicConfig) GetCoolOffPeriod() *flag.Duration {
	return flag.NewDuration(c.getStore(), c.configPath("cool_off_period"), 0)
}

// GetResetThreshold implements Config.
func (c *DynamicConfig) GetResetThreshold() *flag.Uint32 {
	return flag.NewUint32(c.getStore(), c.configPath("reset_threshold"), 0)
}

func (c *DynamicConfig) getStore() *store.Store {
	if c.store == nil {
		return &config.Store
	}
	return c.store
}

// configPath joins ConfigPath and key.
func (c *DynamicConfig) configPath(key string) string {
	return strings.TrimSuffix(c.ConfigPath, "/") + "/" + key
}
