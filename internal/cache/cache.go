// Package cache provides the content-addressed deduplication cache for
// synthesized audio. Requests that normalize to the same text share one
// cache entry. Every operation fails soft: a store outage degrades to
// "proceed without cache", never to a request failure.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"
)

const keyPrefix = "tts:audio:"

// Key computes the cache key for text: the text is case-folded and
// trimmed, so inputs differing only in case or surrounding whitespace
// address the same entry.
func Key(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(normalized))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Stats reports cache effectiveness since process start.
type Stats struct {
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	TotalRequests  int64   `json:"total_requests"`
	HitRate        float64 `json:"hit_rate"`
	StoreConnected bool    `json:"store_connected"`
}

// Cache wraps a Store with fingerprinting and hit/miss accounting. The
// counters are process-local and protected by mu; individual key
// operations rely on the store's own atomicity.
type Cache struct {
	store      Store
	defaultTTL time.Duration
	opTimeout  time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	hits   int64
	misses int64
}

func New(store Store, defaultTTL, opTimeout time.Duration, log *slog.Logger) *Cache {
	return &Cache{
		store:      store,
		defaultTTL: defaultTTL,
		opTimeout:  opTimeout,
		logger:     log.With(slog.String("component", "cache")),
	}
}

// Get returns the cached audio for text, or nil on a miss. Store errors
// are absorbed and counted as misses.
func (c *Cache) Get(ctx context.Context, text string) []byte {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	key := Key(text)
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Error("cache get failed", slog.String("error", err.Error()))
		c.countMiss()
		return nil
	}
	if !ok {
		c.logger.Debug("cache miss", slog.String("key", shortKey(key)))
		c.countMiss()
		return nil
	}
	c.logger.Debug("cache hit", slog.String("key", shortKey(key)))
	c.countHit()
	return data
}

// Set stores audio for text. A zero ttl uses the configured default.
// Returns false on store failure without raising.
func (c *Cache) Set(ctx context.Context, text string, audio []byte, ttl time.Duration) bool {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	key := Key(text)
	if err := c.store.Set(ctx, key, audio, ttl); err != nil {
		c.logger.Error("cache set failed", slog.String("error", err.Error()))
		return false
	}
	c.logger.Debug("cache set", slog.String("key", shortKey(key)), slog.Duration("ttl", ttl))
	return true
}

// Delete removes the entry for text, reporting whether a key was removed.
func (c *Cache) Delete(ctx context.Context, text string) bool {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	removed, err := c.store.Delete(ctx, Key(text))
	if err != nil {
		c.logger.Error("cache delete failed", slog.String("error", err.Error()))
		return false
	}
	return removed
}

// ClearAll drops every synthesized-audio entry.
func (c *Cache) ClearAll(ctx context.Context) bool {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	n, err := c.store.DeleteAll(ctx, keyPrefix)
	if err != nil {
		c.logger.Error("cache clear failed", slog.String("error", err.Error()))
		return false
	}
	if n > 0 {
		c.logger.Info("cache cleared", slog.Int("entries", n))
	}
	return true
}

// Size returns the number of cached entries, 0 when the store is down.
func (c *Cache) Size(ctx context.Context) int {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	n, err := c.store.Count(ctx, keyPrefix)
	if err != nil {
		return 0
	}
	return n
}

// Ping reports backing-store availability for health checks.
func (c *Cache) Ping(ctx context.Context) bool {
	ctx, cancel := c.opContext(ctx)
	defer cancel()
	return c.store.Ping(ctx) == nil
}

// Stats returns hit/miss counters and the derived hit rate (percent,
// rounded to two decimals).
func (c *Cache) Stats(ctx context.Context) Stats {
	c.mu.Lock()
	hits, misses := c.hits, c.misses
	c.mu.Unlock()

	st := Stats{
		Hits:          hits,
		Misses:        misses,
		TotalRequests: hits + misses,
	}
	if st.TotalRequests > 0 {
		rate := float64(hits) / float64(st.TotalRequests) * 100
		st.HitRate = math.Round(rate*100) / 100
	}
	st.StoreConnected = c.Ping(ctx)
	return st
}

// Close releases the backing store.
func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) countHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *Cache) countMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

func (c *Cache) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opTimeout)
}

func shortKey(key string) string {
	if len(key) > 20 {
		return key[:20] + "..."
	}
	return key
}
