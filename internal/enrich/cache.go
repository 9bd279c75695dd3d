package enrich

import (
	"sync"

	"wowmeta/aggregator/internal/models"
)

// Cache holds the ratings looked up during one cycle. A stored nil means the
// player was looked up and has no rating, which is different from absent.
type Cache struct {
	mu      sync.RWMutex
	ratings map[models.PlayerKey]*float64
}

func NewCache() *Cache {
	return &Cache{ratings: make(map[models.PlayerKey]*float64)}
}

// Get returns the cached rating and whether the key was looked up at all
func (c *Cache) Get(key models.PlayerKey) (*float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.ratings[key]
	return v, ok
}

func (c *Cache) Set(key models.PlayerKey, rating *float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ratings[key] = rating
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ratings)
}
