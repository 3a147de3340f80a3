package entitlement

import (
	"sync"
	"time"
)

// Cache defines the interface for caching entitlements to keep premium
// checks off the storage backend.
type Cache interface {
	// GetEntitlement retrieves a cached entitlement
	// Returns the entitlement and true if found, nil and false otherwise
	GetEntitlement(userID string) (*Entitlement, bool)

	// SetEntitlement stores an entitlement in the cache with TTL
	SetEntitlement(userID string, ent *Entitlement, ttl time.Duration)

	// InvalidateEntitlement removes an entitlement from the cache
	InvalidateEntitlement(userID string)

	// Clear removes all entries from the cache
	Clear()

	// Stats returns cache statistics
	Stats() CacheStats
}

// CacheStats holds cache performance statistics
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

type cacheEntry struct {
	ent        *Entitlement
	expiration time.Time
	accessTime time.Time
	sequence   int64 // tiebreak when access times are equal
}

func (e *cacheEntry) isExpired(now time.Time) bool {
	return now.After(e.expiration)
}

// NoopCache is used when caching is disabled
type NoopCache struct{}

// NewNoopCache creates a new no-op cache
func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) GetEntitlement(_ string) (*Entitlement, bool) {
	return nil, false
}

func (c *NoopCache) SetEntitlement(_ string, _ *Entitlement, _ time.Duration) {}

func (c *NoopCache) InvalidateEntitlement(_ string) {}

func (c *NoopCache) Clear() {}

func (c *NoopCache) Stats() CacheStats {
	return CacheStats{}
}

// LRUCache implements Cache using an in-memory LRU map with TTL support
type LRUCache struct {
	mu        sync.Mutex
	entries   map[string]*cacheEntry
	maxSize   int
	hits      int64
	misses    int64
	evictions int64
	sequence  int64
	now       func() time.Time
}

// NewLRUCache creates a new LRU cache holding at most maxEntitlements entries
func NewLRUCache(maxEntitlements int) *LRUCache {
	if maxEntitlements <= 0 {
		maxEntitlements = 1000
	}
	return &LRUCache{
		entries: make(map[string]*cacheEntry, maxEntitlements),
		maxSize: maxEntitlements,
		now:     time.Now,
	}
}

func (c *LRUCache) GetEntitlement(userID string) (*Entitlement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, exists := c.entries[userID]
	if !exists || entry.isExpired(now) {
		c.misses++
		return nil, false
	}

	entry.accessTime = now
	c.hits++
	return copyEntitlement(entry.ent), true
}

func (c *LRUCache) SetEntitlement(userID string, ent *Entitlement, ttl time.Duration) {
	if ent == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[userID]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	seq := c.sequence
	c.sequence++
	c.entries[userID] = &cacheEntry{
		ent:        copyEntitlement(ent),
		expiration: now.Add(ttl),
		accessTime: now,
		sequence:   seq,
	}
}

// evictOldest drops the least recently used entry. Caller holds c.mu.
func (c *LRUCache) evictOldest() {
	var (
		oldestKey  string
		oldestTime time.Time
		oldestSeq  int64
		first      = true
	)
	for key, entry := range c.entries {
		if first || entry.accessTime.Before(oldestTime) ||
			(entry.accessTime.Equal(oldestTime) && entry.sequence < oldestSeq) {
			oldestKey = key
			oldestTime = entry.accessTime
			oldestSeq = entry.sequence
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

func (c *LRUCache) InvalidateEntitlement(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry, c.maxSize)
}

func (c *LRUCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
}

func copyEntitlement(ent *Entitlement) *Entitlement {
	if ent == nil {
		return nil
	}
	cp := *ent
	if ent.PaymentFailedAt != nil {
		t := *ent.PaymentFailedAt
		cp.PaymentFailedAt = &t
	}
	return &cp
}
