package exchange

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sawpanic/momentumscan/internal/domain"
	"github.com/sawpanic/momentumscan/internal/metrics"
)

// Cache is the OHLCV read-through tier keyed by (symbol, timeframe, limit).
// Get returns ok=false on miss or expiry; implementations never return stale
// entries.
type Cache interface {
	Get(ctx context.Context, symbol domain.Symbol, tf domain.Timeframe, limit int) (domain.Series, bool)
	Put(ctx context.Context, symbol domain.Symbol, tf domain.Timeframe, limit int, series domain.Series)
}

func cacheKey(symbol domain.Symbol, tf domain.Timeframe, limit int) string {
	return fmt.Sprintf("ohlcv:%s:%s:%d", symbol.String(), tf, limit)
}

// MemoryCache is a TTL cache with an LRU size bound, the default tier.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	now     func() time.Time
}

type memEntry struct {
	key     string
	series  domain.Series
	expires time.Time
}

// NewMemoryCache builds a cache holding at most maxSize entries, each live for
// ttl after insertion.
func NewMemoryCache(ttl time.Duration, maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 4096
	}
	return &MemoryCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, symbol domain.Symbol, tf domain.Timeframe, limit int) (domain.Series, bool) {
	key := cacheKey(symbol, tf, limit)
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		metrics.CacheHits.WithLabelValues("miss").Inc()
		return nil, false
	}
	ent := el.Value.(*memEntry)
	if c.now().After(ent.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		metrics.CacheHits.WithLabelValues("expired").Inc()
		return nil, false
	}
	c.order.MoveToFront(el)
	metrics.CacheHits.WithLabelValues("hit").Inc()
	return ent.series, true
}

func (c *MemoryCache) Put(_ context.Context, symbol domain.Symbol, tf domain.Timeframe, limit int, series domain.Series) {
	key := cacheKey(symbol, tf, limit)
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*memEntry)
		ent.series = series
		ent.expires = c.now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&memEntry{key: key, series: series, expires: c.now().Add(c.ttl)})
	c.entries[key] = el
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*memEntry).key)
	}
}

// Len returns the live entry count, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// RedisCache is the optional warm tier, sharing candles across processes.
// Redis errors degrade to cache misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, symbol domain.Symbol, tf domain.Timeframe, limit int) (domain.Series, bool) {
	raw, err := c.client.Get(ctx, cacheKey(symbol, tf, limit)).Bytes()
	if err != nil {
		metrics.CacheHits.WithLabelValues("miss").Inc()
		return nil, false
	}
	var series domain.Series
	if err := json.Unmarshal(raw, &series); err != nil {
		metrics.CacheHits.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("hit").Inc()
	return series, true
}

func (c *RedisCache) Put(ctx context.Context, symbol domain.Symbol, tf domain.Timeframe, limit int, series domain.Series) {
	raw, err := json.Marshal(series)
	if err != nil {
		return
	}
	c.client.Set(ctx, cacheKey(symbol, tf, limit), raw, c.ttl)
}
