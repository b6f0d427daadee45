package collect

import "sync"

// SeenCache remembers which account payloads a run has already applied. It
// lives for one run and is shared by that run's workers.
type SeenCache struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewSeenCache() *SeenCache {
	return &SeenCache{seen: map[string]struct{}{}}
}

// Add records id and reports whether it was new.
func (c *SeenCache) Add(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[id]; ok {
		return false
	}
	c.seen[id] = struct{}{}
	return true
}

// Has reports whether id was recorded.
func (c *SeenCache) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[id]
	return ok
}

func (c *SeenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Reset forgets every ID.
func (c *SeenCache) Reset() {
	c.mu.Lock()
	c.seen = map[string]struct{}{}
	c.mu.Unlock()
}
