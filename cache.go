package loam

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache is the interface for caching read results. Implementations
// must be safe for concurrent use. The in-memory MemoryCache below
// suits single-process deployments, which is all the single-writer
// engine supports anyway.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// cacheKey derives the cache key for a compiled read. Compilation is
// deterministic, so identical queries share a key. The table prefix
// scopes invalidation.
func cacheKey(table string, cq *CompiledQuery) string {
	var sb strings.Builder
	sb.WriteString(table)
	sb.WriteString(":")
	sb.WriteString(cq.SQL)
	for _, a := range cq.Args {
		sb.WriteString("|")
		sb.WriteString(argKey(a))
	}
	return sb.String()
}

func argKey(a any) string {
	buf, err := msgpack.Marshal(a)
	if err != nil {
		return "?"
	}
	return string(buf)
}

// cachedQuery serves a compiled read from the cache when possible,
// falling through to the engine and storing the encoded rows on miss.
// Reads inside a transaction bypass the cache: they must observe the
// transaction's own uncommitted writes.
func (m *Model) cachedQuery(ctx context.Context, cq *CompiledQuery) ([]Record, error) {
	cache := m.client.cache
	if cache == nil || txFromContext(ctx) != nil {
		return m.query(ctx, cq.SQL, cq.Args)
	}
	key := cacheKey(m.def.Table, cq)
	if buf, err := cache.Get(ctx, key); err == nil && buf != nil {
		var rows []Record
		if err := msgpack.Unmarshal(buf, &rows); err == nil {
			return rows, nil
		}
		// Unreadable entry; drop it and fall through.
		_ = cache.Delete(ctx, key)
	}
	rows, err := m.query(ctx, cq.SQL, cq.Args)
	if err != nil {
		return nil, err
	}
	if buf, err := msgpack.Marshal(rows); err == nil {
		if err := cache.Set(ctx, key, buf, m.client.cacheTTL); err != nil {
			m.client.logger.WarnContext(ctx, "cache store failed", "table", m.def.Table, "err", err)
		}
	}
	return rows, nil
}

// MemoryCache is an in-process Cache backed by a map.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, nil
	}
	return e.value, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

// Delete implements Cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// DeletePrefix implements Cache.
func (c *MemoryCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
	return nil
}

// Clear implements Cache.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}

var _ Cache = (*MemoryCache)(nil)
