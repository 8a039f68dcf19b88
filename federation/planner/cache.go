package planner

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// CacheKey identifies one cached plan: the schema this plan was built
// against, the operation that was planned, and any auth metadata that can
// change which fields are reachable.
type CacheKey struct {
	SchemaID    string
	OperationID string
	AuthHash    string
}

func (k CacheKey) string() string {
	return fmt.Sprintf("%s|%s|%s", k.SchemaID, k.OperationID, k.AuthHash)
}

type cacheEntry struct {
	key    CacheKey
	result *Result
}

// Cache is a bounded LRU of planned FetchDependencyGraphs, with concurrent
// requests for the same key coalesced onto a single planning call via
// singleflight — mirroring the executor's use of golang.org/x/sync for
// bounding concurrent subgraph work, applied here to avoid redundant
// planning work under load.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
	group    singleflight.Group
}

// NewCache builds a Cache holding at most capacity entries.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns a cached Result for key, if present, moving it to
// most-recently-used position.
func (c *Cache) Get(key CacheKey) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key.string()]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).result, true
}

// Put inserts or replaces a cached Result for key, evicting the least
// recently used entry if the cache is full.
func (c *Cache) Put(key CacheKey, result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ks := key.string()
	if elem, ok := c.items[ks]; ok {
		elem.Value.(*cacheEntry).result = result
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&cacheEntry{key: key, result: result})
	c.items[ks] = elem

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key.string())
		}
	}
}

// GetOrPlan returns the cached plan for key, or calls plan to build one.
// Concurrent callers sharing the same key block on a single in-flight plan
// call rather than each planning independently.
func (c *Cache) GetOrPlan(ctx context.Context, key CacheKey, plan func() (*Result, error)) (*Result, error) {
	if result, ok := c.Get(key); ok {
		return result, nil
	}

	ks := key.string()
	v, err, _ := c.group.Do(ks, func() (any, error) {
		if result, ok := c.Get(key); ok {
			return result, nil
		}
		result, err := plan()
		if err != nil {
			return nil, err
		}
		c.Put(key, result)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
