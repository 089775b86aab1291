package futures

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/achilleasa/kson/encoding"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix is prepended to future ids to build redis keys.
const KeyPrefix = "kson:future:"

// RedisClient is the subset of the go-redis client API used by RedisStore.
// Both *redis.Client and *redis.ClusterClient satisfy it.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps pending invocations in redis using keys that expire after
// the configured ttl. Several server replicas can share a RedisStore so that
// a Future returned by one replica can be polled through another.
type RedisStore struct {
	client    RedisClient
	ttl       time.Duration
	marshal   encoding.Marshaler
	unmarshal encoding.Unmarshaler
}

// NewRedisStore creates a store that serializes pending invocations with
// codec.
func NewRedisStore(client RedisClient, codec encoding.Codec, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("futures: nil redis client")
	}
	if codec == nil {
		return nil, errors.New("futures: nil codec")
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	return &RedisStore{
		client:    client,
		ttl:       ttl,
		marshal:   codec.Marshaler(),
		unmarshal: codec.Unmarshaler(),
	}, nil
}

// Park implements Store.
func (s *RedisStore) Park(ctx context.Context, p Pending) (string, error) {
	if p.Created == 0 {
		p.Created = now().UnixNano()
	}

	data, err := s.marshal(p)
	if err != nil {
		return "", fmt.Errorf("futures: encode pending invocation: %w", err)
	}

	id := NewID()
	if err = s.client.Set(ctx, KeyPrefix+id, data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("futures: park %s: %w", id, err)
	}
	return id, nil
}

// Lookup implements Store.
func (s *RedisStore) Lookup(ctx context.Context, id string) (Pending, error) {
	data, err := s.client.Get(ctx, KeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Pending{}, ErrNotFound
	} else if err != nil {
		return Pending{}, fmt.Errorf("futures: lookup %s: %w", id, err)
	}

	var p Pending
	if err = s.unmarshal(data, &p); err != nil {
		return Pending{}, fmt.Errorf("futures: decode pending invocation %s: %w", id, err)
	}
	return p, nil
}

// Drop implements Store.
func (s *RedisStore) Drop(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, KeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("futures: drop %s: %w", id, err)
	}
	return nil
}
