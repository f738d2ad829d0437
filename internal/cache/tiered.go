package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"lyricsync/pkg/redis"
)

// Remote is a shared second tier behind the in-memory cache.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisStore adapts the redis client to Remote.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.client.GetBytes(ctx, key)
}

func (s *RedisStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return s.client.SetWithExpiration(ctx, key, payload, ttl)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.Del(ctx, key)
	return err
}

// Tiered reads through the memory cache into an optional remote tier and
// writes to both. Remote failures degrade to memory-only operation.
type Tiered[V any] struct {
	Mem    *Cache[V]
	Remote Remote
	TTL    time.Duration
	// RemoteTTL overrides TTL for plain Store calls on the remote tier.
	RemoteTTL time.Duration
}

func (t *Tiered[V]) Lookup(ctx context.Context, key string) (V, bool) {
	key = NormalizeKey(key)
	if v, ok := t.Mem.Get(key); ok {
		return v, true
	}

	var zero V
	if t.Remote == nil {
		return zero, false
	}
	payload, ok, err := t.Remote.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Remote cache lookup failed")
		return zero, false
	}
	if !ok {
		return zero, false
	}

	var v V
	if err := json.Unmarshal(payload, &v); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Remote cache entry undecodable")
		return zero, false
	}
	if err := t.Mem.SetWithTTL(key, v, t.ttl()); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Remote cache entry not backfilled")
	}
	return v, true
}

func (t *Tiered[V]) Store(ctx context.Context, key string, v V) {
	remoteTTL := t.RemoteTTL
	if remoteTTL <= 0 {
		remoteTTL = t.ttl()
	}
	t.store(ctx, key, v, t.ttl(), remoteTTL)
}

func (t *Tiered[V]) StoreWithTTL(ctx context.Context, key string, v V, ttl time.Duration) {
	t.store(ctx, key, v, ttl, ttl)
}

func (t *Tiered[V]) store(ctx context.Context, key string, v V, ttl, remoteTTL time.Duration) {
	key = NormalizeKey(key)
	if err := t.Mem.SetWithTTL(key, v, ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache value")
	}
	if t.Remote == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := t.Remote.Set(ctx, key, payload, remoteTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to write remote cache")
	}
}

func (t *Tiered[V]) Forget(ctx context.Context, key string) {
	key = NormalizeKey(key)
	t.Mem.Remove(key)
	if t.Remote != nil {
		if err := t.Remote.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to delete remote cache entry")
		}
	}
}

func (t *Tiered[V]) ttl() time.Duration {
	if t.TTL > 0 {
		return t.TTL
	}
	return t.Mem.defaultTTL
}
