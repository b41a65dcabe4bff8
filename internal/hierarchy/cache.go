package hierarchy

import (
	"sync"

	"github.com/pbaille/scopes/internal/domain"
)

type cacheKey struct {
	level    domain.Level
	parentID string
}

func (k cacheKey) String() string {
	return k.level.Label() + "/" + k.parentID
}

// Cache maps (child level, parent id) to fetched children. Entries are
// written once and never evicted: the hierarchy is read-only for a session.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey][]domain.Node
}

// NewCache returns an empty cache
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey][]domain.Node)}
}

// Lookup returns a copy of the cached children, if any
func (c *Cache) Lookup(level domain.Level, parentID string) ([]domain.Node, bool) {
	nodes, ok := c.get(cacheKey{level: level, parentID: parentID})
	if !ok {
		return nil, false
	}
	return cloneNodes(nodes), true
}

// Len returns the number of cached parents
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) get(k cacheKey) ([]domain.Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nodes, ok := c.entries[k]
	return nodes, ok
}

// put keeps the first value stored for a key
func (c *Cache) put(k cacheKey, nodes []domain.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[k]; ok {
		return
	}
	if nodes == nil {
		nodes = []domain.Node{}
	}
	c.entries[k] = nodes
}

func cloneNodes(nodes []domain.Node) []domain.Node {
	out := make([]domain.Node, len(nodes))
	copy(out, nodes)
	return out
}
