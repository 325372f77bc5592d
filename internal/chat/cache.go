package chat

import (
	"context"
	"sync"
)

// DefaultCacheSize matches the original deployment's compiled-graph cache.
const DefaultCacheSize = 10

// Cache holds compiled graphs keyed by Config.Key(). Eviction is FIFO:
// when full, the oldest insertion goes first. Graphs are cheap to hold
// (no per-turn state) but compiling one touches the model registry, so
// repeat configurations skip that work.
type Cache struct {
	mu       sync.Mutex
	capacity int
	graphs   map[string]*Graph
	order    []string
}

// NewCache creates a cache. capacity <= 0 gets DefaultCacheSize.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &Cache{
		capacity: capacity,
		graphs:   make(map[string]*Graph),
	}
}

// GetOrCompile returns the cached graph for cfg, compiling and caching it
// on a miss. Concurrent misses for the same key may both compile; the
// last insert wins, which is harmless since compiled graphs are
// interchangeable for a given key.
func (c *Cache) GetOrCompile(ctx context.Context, b *Builder, cfg Config) (*Graph, error) {
	key := cfg.Key()

	c.mu.Lock()
	if g, ok := c.graphs[key]; ok {
		c.mu.Unlock()
		return g, nil
	}
	c.mu.Unlock()

	g, err := b.Compile(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.graphs[key]; !ok {
		if len(c.order) >= c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.graphs, oldest)
		}
		c.order = append(c.order, key)
	}
	c.graphs[key] = g
	return g, nil
}

// Len returns the number of cached graphs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.graphs)
}

// contains reports whether key is cached. Test helper.
func (c *Cache) contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.graphs[key]
	return ok
}
