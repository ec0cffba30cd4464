// Package entities caches display names and hp for in-world entities.
// Entity ids are transient per instance, so the cache is wiped whenever a
// new session opens.
package entities

import "sync"

// Info is the cached view of one entity.
type Info struct {
	Name string
	HP   int64
}

// Cache is a thread-safe entity cache keyed by transient in-world id.
type Cache struct {
	mu      sync.Mutex
	entries map[int64]Info
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[int64]Info)}
}

// Set stores or updates one entity. An empty name keeps the previous one.
func (c *Cache) Set(entityID int64, name string, hp int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := c.entries[entityID]
	if name != "" {
		info.Name = name
	}
	info.HP = hp
	c.entries[entityID] = info
}

// Lookup returns the cached info for an entity.
func (c *Cache) Lookup(entityID int64) (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.entries[entityID]
	return info, ok
}

// Len reports the number of cached entities.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Reset wipes the cache. The session manager invokes it on transitions.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[int64]Info)
}
