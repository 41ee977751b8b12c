package schema

import (
	"crypto/sha256"
	"sync"
)

// Cache memoizes resolved schemas by definition content, so validators are
// compiled once per schema version instead of per request.
type Cache struct {
	mu      sync.RWMutex
	schemas map[[32]byte]*Schema
}

// NewCache returns an empty schema cache.
func NewCache() *Cache {
	return &Cache{schemas: make(map[[32]byte]*Schema)}
}

// Resolve returns the cached schema for raw, resolving and storing it on the
// first call. Resolution errors are not cached.
func (c *Cache) Resolve(raw []byte) (*Schema, error) {
	key := sha256.Sum256(raw)
	c.mu.RLock()
	s, ok := c.schemas[key]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}
	s, err := ResolveJSON(raw)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.schemas[key] = s
	c.mu.Unlock()
	return s, nil
}
