// Package futures stores invocations whose result was not ready when they
// were first dispatched. Each parked invocation is addressed by a ULID that
// the server embeds in the url of the Future envelope it returns.
package futures

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrNotFound is returned when a future id is unknown or has expired.
	ErrNotFound = errors.New("futures: unknown future id")

	// ErrInvalidTTL is returned by store constructors for non-positive TTLs.
	ErrInvalidTTL = errors.New("futures: ttl must be positive")
)

// Pending describes a parked invocation: the action to re-invoke on the
// object mounted at Path and its JSON-encoded arguments.
type Pending struct {
	Path    string `json:"path" msgpack:"path"`
	Action  string `json:"action" msgpack:"action"`
	Args    []byte `json:"args" msgpack:"args"`
	Created int64  `json:"created" msgpack:"created"`
}

// Store persists pending invocations. Implementations must be safe for
// concurrent use.
type Store interface {
	// Park stores p and returns the id it was assigned.
	Park(ctx context.Context, p Pending) (string, error)

	// Lookup returns the invocation parked under id or ErrNotFound.
	Lookup(ctx context.Context, id string) (Pending, error)

	// Drop removes the invocation parked under id. Dropping an unknown id
	// is not an error.
	Drop(ctx context.Context, id string) error
}

const defaultTTL = 10 * time.Minute

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)

	// now is overridden by tests.
	now = time.Now
)

// NewID returns a time-sortable ULID encoded as a 26-character string.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(now()), entropy).String()
}
