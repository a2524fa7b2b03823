package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"goofish-crawler/models"
	"goofish-crawler/utils"
)

// SeenCache remembers fingerprints already known to be durable in the
// backing store. It is only a shortcut: a miss always falls through to
// the store.
type SeenCache interface {
	Known(ctx context.Context, keys []string) ([]bool, error)
	Remember(ctx context.Context, keys []string) error
}

// RedisConfig configures the Redis connection and key used by RedisSeenCache.
type RedisConfig struct {
	Addr     string // e.g. localhost:6379
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// RedisSeenCache keeps known fingerprints in a Redis set.
type RedisSeenCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisSeenCache connects to Redis and verifies the connection.
func NewRedisSeenCache(ctx context.Context, cfg RedisConfig) (*RedisSeenCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	key := cfg.Key
	if key == "" {
		key = "goofish:seen"
	}
	return &RedisSeenCache{client: client, key: key, ttl: cfg.TTL}, nil
}

// Known reports, per key, whether it is in the set.
func (r *RedisSeenCache) Known(ctx context.Context, keys []string) ([]bool, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	return r.client.SMIsMember(ctx, r.key, members...).Result()
}

// Remember adds keys to the set and refreshes its TTL.
func (r *RedisSeenCache) Remember(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.key, members...)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.key, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the underlying Redis client.
func (r *RedisSeenCache) Close() error {
	return r.client.Close()
}

// CachedStore puts a SeenCache in front of a DedupStore. Fingerprints are
// only remembered after the inner store has committed them, so a cache hit
// can never hide a record that was not persisted.
type CachedStore struct {
	inner  DedupStore
	cache  SeenCache
	logger *utils.Logger
}

// NewCachedStore wraps inner with cache.
func NewCachedStore(inner DedupStore, cache SeenCache, logger *utils.Logger) *CachedStore {
	return &CachedStore{inner: inner, cache: cache, logger: logger}
}

// Reserve implements DedupStore. Cache errors are logged and ignored.
func (s *CachedStore) Reserve(ctx context.Context, keyword string, candidates []models.Candidate) ([]models.Reservation, error) {
	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.Fingerprint.Key
	}

	known, err := s.cache.Known(ctx, keys)
	if err != nil || len(known) != len(keys) {
		if err != nil {
			s.logger.Warn("[seen-cache] lookup failed, using store only: %v", err)
		}
		known = make([]bool, len(keys))
	}

	pending := make([]models.Candidate, 0, len(candidates))
	for i, c := range candidates {
		if !known[i] {
			pending = append(pending, c)
		}
	}

	var res []models.Reservation
	if len(pending) > 0 {
		res, err = s.inner.Reserve(ctx, keyword, pending)
		if err != nil {
			return nil, err
		}
		durable := make([]string, len(res))
		for i, r := range res {
			durable[i] = r.Fingerprint
		}
		if err := s.cache.Remember(ctx, durable); err != nil {
			s.logger.Warn("[seen-cache] remember failed: %v", err)
		}
	}

	out := make([]models.Reservation, len(candidates))
	next := 0
	for i, c := range candidates {
		if known[i] {
			out[i] = models.Reservation{Fingerprint: c.Fingerprint.Key}
			continue
		}
		out[i] = res[next]
		next++
	}
	s.logger.Debug("[seen-cache] %d of %d candidates answered from cache", len(candidates)-len(pending), len(candidates))
	return out, nil
}
