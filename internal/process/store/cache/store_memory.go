// Package cache stores process-call results keyed by patient and payload.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type cachedResult struct {
	value     json.RawMessage
	expiresAt time.Time
}

// InMemoryStore is a TTL cache local to one process. Expired entries are
// dropped lazily on read.
type InMemoryStore struct {
	mu      sync.RWMutex
	results map[string]cachedResult
	now     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		results: make(map[string]cachedResult),
		now:     time.Now,
	}
}

// Get returns the cached value for key. ok is false on miss or expiry.
func (c *InMemoryStore) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	c.mu.RLock()
	cached, ok := c.results[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(cached.expiresAt) {
		c.mu.Lock()
		if cur, still := c.results[key]; still && !c.now().Before(cur.expiresAt) {
			delete(c.results, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return append(json.RawMessage(nil), cached.value...), true, nil
}

// Set stores value under key for ttl. A non-positive ttl is a no-op.
func (c *InMemoryStore) Set(_ context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[key] = cachedResult{
		value:     append(json.RawMessage(nil), value...),
		expiresAt: c.now().Add(ttl),
	}
	return nil
}
