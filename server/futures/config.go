package futures

import (
	"fmt"

	"github.com/achilleasa/kson/config"
	"github.com/achilleasa/kson/encoding"
	"github.com/achilleasa/kson/encoding/json"
	"github.com/achilleasa/kson/encoding/msgpack"
	"github.com/redis/go-redis/v9"
)

// newRedisClient is overridden by tests.
var newRedisClient = func(addr string) RedisClient {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// FromConfig builds the store selected by the server/futures config keys:
//   - server/futures/backend: "memory" (default) or "redis".
//   - server/futures/ttl: how long parked invocations are kept (default 10m).
//   - server/futures/redis/addr: the redis endpoint (default localhost:6379).
//   - server/futures/codec: "json" (default) or "msgpack"; redis only.
func FromConfig() (Store, error) {
	ttl := config.DurationFlag("server/futures/ttl", defaultTTL)
	defer ttl.CancelDynamicUpdates()
	backend := config.StringFlag("server/futures/backend", "memory")
	defer backend.CancelDynamicUpdates()

	switch backend.Get() {
	case "memory":
		return NewMemoryStore(ttl.Get())
	case "redis":
		addr := config.StringFlag("server/futures/redis/addr", "localhost:6379")
		defer addr.CancelDynamicUpdates()
		codecName := config.StringFlag("server/futures/codec", "json")
		defer codecName.CancelDynamicUpdates()

		codec, err := codecByName(codecName.Get())
		if err != nil {
			return nil, err
		}
		return NewRedisStore(newRedisClient(addr.Get()), codec, ttl.Get())
	default:
		return nil, fmt.Errorf("futures: unsupported backend %q", backend.Get())
	}
}

func codecByName(name string) (encoding.Codec, error) {
	for _, codec := range []encoding.Codec{json.Codec(), msgpack.Codec()} {
		if codec.Name() == name {
			return codec, nil
		}
	}
	return nil, fmt.Errorf("futures: unsupported codec %q", name)
}

func init() {
	config.SetDefaults("server/futures", map[string]string{
		"backend":    "memory",
		"ttl":        defaultTTL.String(),
		"redis/addr": "localhost:6379",
		"codec":      "json",
	})
}
