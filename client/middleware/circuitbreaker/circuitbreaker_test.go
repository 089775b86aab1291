package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/achilleasa/kson/client"
	"github.com/achilleasa/kson/config"
	"github.com/achilleasa/kson/config/store"
	"github.com/achilleasa/kson/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory(t *testing.T) {
	f := Factory(&StaticConfig{})

	m1 := f().(*circuitBreaker)
	m2 := f().(*circuitBreaker)

	require.False(t, m1 == m2, "expected Factory to return different instances")

	ctx := context.Background()
	fetch := client.Fetch{Method: transport.MethodGet, URL: "/svc"}

	// m1 middleware invocation should trip m1 circuit-breaker
	_, err := m1.Pre(ctx, &fetch)
	require.NoError(t, err)
	m1.Post(ctx, fetch, nil, transport.ErrTimeout)

	// m2 middleware invocation should not fail due to a tripped circuit-breaker
	_, err = m2.Pre(ctx, &fetch)
	require.NoError(t, err)
	m2.Post(ctx, fetch, []byte("{}"), nil)

	assert.Equal(t, Closed, getState(m1))
	assert.Equal(t, Open, getState(m2))
}

func TestSingletonFactory(t *testing.T) {
	f := SingletonFactory(&StaticConfig{})

	m1 := f().(*circuitBreaker)
	m2 := f().(*circuitBreaker)

	require.True(t, m1 == m2, "expected SingletonFactory to return the same instance")

	ctx := context.Background()
	fetch := client.Fetch{Method: transport.MethodGet, URL: "/svc"}

	// m1 middleware invocation should trip the shared circuit-breaker
	_, err := m1.Pre(ctx, &fetch)
	require.NoError(t, err)
	m1.Post(ctx, fetch, nil, transport.ErrTimeout)

	// m2 middleware invocation should fail due to a tripped circuit-breaker
	_, err = m2.Pre(ctx, &fetch)
	assert.Equal(t, transport.ErrServiceUnavailable, err)
}

type stateSpec struct {
	ResErr         error
	ExpErr         error
	Delay          time.Duration
	ExpState       State
	ExpStateChange State
}

// stateMachineSpecs assumes a trip threshold of 2, a reset threshold of 3 and
// a cool off period of 100ms.
var stateMachineSpecs = []stateSpec{
	{ResErr: nil, ExpErr: nil, ExpState: Open, ExpStateChange: State(-1)},
	// First error should not trip the circuit-breaker
	{ResErr: transport.ErrTimeout, ExpErr: nil, ExpState: Open, ExpStateChange: State(-1)},
	// A non-tracked error should NOT trip the circuit-breaker
	{ResErr: errors.New("something weird happened"), ExpErr: nil, ExpState: Open, ExpStateChange: State(-1)},
	// Second error should trip the circuit-breaker; wrapped errors are tracked too
	{ResErr: errors.Join(transport.ErrInternal, errors.New("boom")), ExpErr: nil, ExpState: Closed, ExpStateChange: Closed},
	// While in closed state any attempt before the coolOffPeriod should fail immediately
	{ResErr: nil, ExpErr: transport.ErrServiceUnavailable, ExpState: Closed, ExpStateChange: State(-1)},
	// A successful attempt after the coolOffPeriod should switch to half-open
	{ResErr: nil, ExpErr: nil, Delay: 110 * time.Millisecond, ExpState: HalfOpen, ExpStateChange: HalfOpen},
	// An unsuccessful attempt in half-open state should immediately trip to closed
	{ResErr: transport.ErrTimeout, ExpErr: nil, ExpState: Closed, ExpStateChange: Closed},
	// A successful attempt after the coolOffPeriod should switch to half-open
	{ResErr: nil, ExpErr: nil, Delay: 110 * time.Millisecond, ExpState: HalfOpen, ExpStateChange: HalfOpen},
	// A second successful attempt while in the half-open state should not affect the state (but gets tallied)
	{ResErr: nil, ExpErr: nil, ExpState: HalfOpen, ExpStateChange: State(-1)},
	// A third successful attempt while in the half-open state should switch to open
	{ResErr: nil, ExpErr: nil, ExpState: Open, ExpStateChange: Open},
}

func runStateMachineSpecs(t *testing.T, cb *circuitBreaker, stateChangeChan chan State) {
	ctx := context.Background()
	fetch := client.Fetch{Method: transport.MethodGet, URL: "/svc"}

	for specIndex, spec := range stateMachineSpecs {
		if spec.Delay != 0 {
			<-time.After(spec.Delay)
		}

		_, err := cb.Pre(ctx, &fetch)
		assert.Equal(t, spec.ExpErr, err, "spec %d: Pre() error", specIndex)
		if err == nil {
			cb.Post(ctx, fetch, nil, spec.ResErr)
		}

		assert.Equal(t, spec.ExpState, getState(cb), "spec %d: circuit-breaker state", specIndex)

		if stateChangeChan == nil {
			continue
		}
		select {
		case newState := <-stateChangeChan:
			assert.Equal(t, spec.ExpStateChange, newState, "spec %d: unexpected state change event", specIndex)
		default:
			assert.Equal(t, State(-1), spec.ExpStateChange, "spec %d: expected a state change event", specIndex)
		}
	}
}

func TestCircuitBreaker(t *testing.T) {
	stateChangeChan := make(chan State, 1)
	cb := newCircuitBreaker(&StaticConfig{
		TripThreshold:  2,
		ResetThreshold: 3,
		CoolOffPeriod:  100 * time.Millisecond,
		Shared:         Shared{StateChangeChan: stateChangeChan},
	})

	runStateMachineSpecs(t, cb, stateChangeChan)
}

func TestCircuitBreakerWithEventChanWithoutListener(t *testing.T) {
	cb := newCircuitBreaker(&StaticConfig{
		TripThreshold:  2,
		ResetThreshold: 3,
		CoolOffPeriod:  100 * time.Millisecond,
		Shared:         Shared{StateChangeChan: make(chan State)},
	})

	runStateMachineSpecs(t, cb, nil)
}

func TestCircuitBreakerWithDynamicConfig(t *testing.T) {
	var s store.Store
	configPath := "test/circuitbreaker"
	s.SetKeys(1, configPath, map[string]string{
		"trip_threshold":  "2",
		"reset_threshold": "3",
		"cool_off_period": "100ms",
	})

	stateChangeChan := make(chan State, 1)
	cb := newCircuitBreaker(&DynamicConfig{
		store:      &s,
		ConfigPath: configPath,
		Shared:     Shared{StateChangeChan: stateChangeChan},
	})

	runStateMachineSpecs(t, cb, stateChangeChan)
}

func TestDefaultCoolOffPeriod(t *testing.T) {
	cb := newCircuitBreaker(&StaticConfig{TripThreshold: 1})
	assert.Equal(t, DefaultCoolOffPeriod, cb.coolOff())
}

func TestWrap(t *testing.T) {
	var calls int
	fetcher := Wrap(client.FetcherFunc(func(_ context.Context, _ client.Fetch) ([]byte, error) {
		calls++
		return nil, transport.ErrServiceUnavailable
	}), &StaticConfig{TripThreshold: 2, CoolOffPeriod: time.Hour, Shared: Shared{ClosedError: errors.New("breaker closed")}})

	for i := 0; i < 2; i++ {
		_, err := fetcher.Fetch(context.Background(), client.Fetch{URL: "/svc"})
		require.Equal(t, transport.ErrServiceUnavailable, err, "call %d", i)
	}

	_, err := fetcher.Fetch(context.Background(), client.Fetch{URL: "/svc"})
	assert.EqualError(t, err, "breaker closed", "expected the tripped breaker to fail the fetch")
	assert.Equal(t, 2, calls)
}

func TestDynamicConfig(t *testing.T) {
	c := &DynamicConfig{}

	assert.True(t, c.getStore() == &config.Store, "expected getStore() to return the global config store instance")

	custom := &store.Store{}
	c.store = custom
	assert.True(t, c.getStore() == custom, "expected getStore() to return the custom store instance")

	c.ConfigPath = "/foo"
	assert.Equal(t, "/foo/bar", c.configPath("bar"))

	c.ConfigPath = "/foo/"
	assert.Equal(t, "/foo/bar", c.configPath("bar"))
}

func getState(cb *circuitBreaker) State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return cb.curState
}
