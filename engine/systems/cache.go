package systems

import (
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"weak"

	"golang.org/x/sync/singleflight"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// LoadFunc builds the object stored under an identifier.
type LoadFunc[T any] func(id uint64) (*T, error)

// Cache maps identifiers to weak handles. Callers own the objects; the cache
// only guarantees that at most one live instance exists per identifier.
type Cache[T any] struct {
	kind string

	mu     sync.RWMutex
	byID   map[uint64]weak.Pointer[T]
	byName map[string]uint64

	flight      singleflight.Group
	constructed atomic.Uint64
}

func NewCache[T any](kind string) *Cache[T] {
	return &Cache[T]{
		kind:   kind,
		byID:   make(map[uint64]weak.Pointer[T]),
		byName: make(map[string]uint64),
	}
}

// Lookup returns the live instance of id without loading.
func (c *Cache[T]) Lookup(id uint64) *T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byID[id].Value()
}

// ByName resolves a name registered with a live instance.
func (c *Cache[T]) ByName(name string) *T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byName[name]
	if !ok {
		return nil
	}
	return c.byID[id].Value()
}

// Get upgrades the weak handle of id or, on a miss, runs load once no
// matter how many callers miss together.
func (c *Cache[T]) Get(id uint64, load LoadFunc[T]) (*T, error) {
	if v := c.Lookup(id); v != nil {
		return v, nil
	}
	v, err, _ := c.flight.Do(strconv.FormatUint(id, 10), func() (any, error) {
		c.mu.Lock()
		if v := c.byID[id].Value(); v != nil {
			c.mu.Unlock()
			return v, nil
		}
		c.forgetLocked(id)
		c.mu.Unlock()

		obj, err := load(id)
		if err != nil {
			return nil, err
		}
		if obj == nil {
			return nil, fmt.Errorf("%s %d: %w", c.kind, id, core.ErrResourceNotFound)
		}
		c.constructed.Add(1)
		c.insert(id, obj)
		return obj, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*T), nil
}

// Add registers an object built at runtime.
func (c *Cache[T]) Add(obj *T) error {
	id, _ := identity(obj)
	c.mu.RLock()
	cur := c.byID[id].Value()
	c.mu.RUnlock()
	if cur != nil && cur != obj {
		return fmt.Errorf("%s %d already has a live instance: %w", c.kind, id, core.ErrInvalidState)
	}
	if cur == nil {
		c.insert(id, obj)
	}
	return nil
}

func identity[T any](obj *T) (uint64, string) {
	if o, ok := any(obj).(metadata.Identified); ok {
		return o.ID(), o.Name()
	}
	return 0, ""
}

func (c *Cache[T]) insert(id uint64, obj *T) {
	_, name := identity(obj)
	c.mu.Lock()
	c.byID[id] = weak.Make(obj)
	if name != "" {
		c.byName[name] = id
	}
	c.mu.Unlock()
	runtime.AddCleanup(obj, c.collect, id)
}

// collect runs after an instance is garbage collected. A newer instance
// under the same identifier is left alone.
func (c *Cache[T]) collect(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.byID[id]; ok && w.Value() == nil {
		c.forgetLocked(id)
	}
}

func (c *Cache[T]) forgetLocked(id uint64) {
	if _, ok := c.byID[id]; !ok {
		return
	}
	delete(c.byID, id)
	for name, nid := range c.byName {
		if nid == id {
			delete(c.byName, name)
		}
	}
}

// Sweep drops every entry whose instance is gone and reports how many.
func (c *Cache[T]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, w := range c.byID {
		if w.Value() == nil {
			c.forgetLocked(id)
			n++
		}
	}
	return n
}

// Len counts live instances.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, w := range c.byID {
		if w.Value() != nil {
			n++
		}
	}
	return n
}

// Constructions counts loads that built a new instance.
func (c *Cache[T]) Constructions() uint64 {
	return c.constructed.Load()
}

// Entries counts identifiers with an entry, live or not yet swept.
func (c *Cache[T]) Entries() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// Live returns the live instances.
func (c *Cache[T]) Live() []*T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*T, 0, len(c.byID))
	for _, w := range c.byID {
		if v := w.Value(); v != nil {
			out = append(out, v)
		}
	}
	return out
}
