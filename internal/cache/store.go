package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/echolane/voicegate/internal/config"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Store is the backing key/value store for cached audio. Implementations
// must provide per-key atomicity; the Cache layer adds no locking around
// store I/O.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	DeleteAll(ctx context.Context, prefix string) (int, error)
	Count(ctx context.Context, prefix string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// NewStore builds the store selected by configuration.
func NewStore(cfg config.CacheConfig) (Store, error) {
	switch cfg.Mode {
	case "redis":
		return newRedisStore(cfg), nil
	case "memory":
		return newMemoryStore(cfg.MaxEntries, time.Duration(cfg.TTLSeconds)*time.Second), nil
	default:
		return nil, fmt.Errorf("unknown cache mode %q", cfg.Mode)
	}
}

type redisStore struct {
	client *redis.Client
}

func newRedisStore(cfg config.CacheConfig) *redisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	return &redisStore{client: client}
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.SetEx(ctx, key, value, ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisStore) DeleteAll(ctx context.Context, prefix string) (int, error) {
	keys, err := s.scanKeys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *redisStore) Count(ctx context.Context, prefix string) (int, error) {
	keys, err := s.scanKeys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *redisStore) scanKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

type memEntry struct {
	data    []byte
	expires time.Time
}

// memoryStore is an in-process expirable LRU, used in development and
// tests where no Redis is available.
type memoryStore struct {
	lru   *expirable.LRU[string, memEntry]
	clock func() time.Time
}

func newMemoryStore(maxEntries int, ttl time.Duration) *memoryStore {
	return &memoryStore{
		lru:   expirable.NewLRU[string, memEntry](maxEntries, nil, ttl),
		clock: time.Now,
	}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, ok := s.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !entry.expires.IsZero() && s.clock().After(entry.expires) {
		s.lru.Remove(key)
		return nil, false, nil
	}
	return entry.data, true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memEntry{data: value}
	if ttl > 0 {
		entry.expires = s.clock().Add(ttl)
	}
	s.lru.Add(key, entry)
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) (bool, error) {
	return s.lru.Remove(key), nil
}

func (s *memoryStore) DeleteAll(_ context.Context, prefix string) (int, error) {
	var removed int
	for _, key := range s.lru.Keys() {
		if strings.HasPrefix(key, prefix) && s.lru.Remove(key) {
			removed++
		}
	}
	return removed, nil
}

func (s *memoryStore) Count(_ context.Context, prefix string) (int, error) {
	var n int
	for _, key := range s.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) Ping(context.Context) error { return nil }

func (s *memoryStore) Close() error { return nil }
