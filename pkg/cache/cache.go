// Package cache provides a small in-process TTL cache with
// stale-while-revalidate semantics. The storefront uses it to keep the
// provider catalog warm without hammering the upstream API.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type Options struct {
	TTL                  time.Duration
	StaleWhileRevalidate time.Duration
	NegativeTTL          time.Duration
	MaxEntries           int
}

// Hooks are optional callbacks for observing cache behavior, typically
// wired to Prometheus counters.
type Hooks struct {
	OnHit   func(key string)
	OnMiss  func(key string)
	OnStale func(key string)
	OnStore func(key string)
}

type entry struct {
	value     interface{}
	err       error
	expiresAt time.Time
	staleAt   time.Time
	negative  bool
	lastUsed  time.Time
}

type Cache struct {
	mu    sync.RWMutex
	items map[string]*entry
	order []string
	opts  Options
	hooks Hooks
	sf    singleflight.Group
}

func New(opts Options, hooks Hooks) *Cache {
	return &Cache{
		items: make(map[string]*entry),
		order: make([]string, 0, 64),
		opts:  opts,
		hooks: hooks,
	}
}

// Loader fetches the value for a key on miss. ok=false with a nil error
// means the value does not exist upstream; a non-nil error is cached for
// NegativeTTL when configured.
type Loader func(ctx context.Context, key string) (interface{}, bool, error)

type loadResult struct {
	val interface{}
	ok  bool
	err error
}

// Get returns the cached value for key, loading it on miss. Entries past
// their TTL but within the stale window are served immediately while a
// single background refresh runs.
func (c *Cache) Get(ctx context.Context, key string, loader Loader) (interface{}, bool, error) {
	now := time.Now()
	c.mu.RLock()
	if e, ok := c.items[key]; ok {
		if now.Before(e.expiresAt) {
			e.lastUsed = now
			c.mu.RUnlock()
			if c.hooks.OnHit != nil {
				c.hooks.OnHit(key)
			}
			if e.negative {
				return nil, false, e.err
			}
			return e.value, true, nil
		}
		if now.Before(e.staleAt) {
			if c.hooks.OnStale != nil {
				c.hooks.OnStale(key)
			}
			go func() {
				_, _, _ = c.sf.Do("refresh:"+key, func() (interface{}, error) {
					val, ok, err := loader(context.WithoutCancel(ctx), key)
					c.store(key, val, ok, err)
					return nil, nil
				})
			}()
			val, ok := e.value, !e.negative
			err := e.err
			c.mu.RUnlock()
			if ok {
				return val, true, nil
			}
			return nil, false, err
		}
		// Hard expired: drop and load synchronously
		c.mu.RUnlock()
		c.mu.Lock()
		delete(c.items, key)
		c.removeFromOrder(key)
		c.mu.Unlock()
	} else {
		c.mu.RUnlock()
	}

	if c.hooks.OnMiss != nil {
		c.hooks.OnMiss(key)
	}
	result, _, _ := c.sf.Do(key, func() (interface{}, error) {
		val, ok, err := loader(ctx, key)
		c.store(key, val, ok, err)
		return loadResult{val: val, ok: ok, err: err}, nil
	})
	res := result.(loadResult)
	if !res.ok {
		return nil, false, res.err
	}
	return res.val, true, nil
}

func (c *Cache) store(key string, val interface{}, ok bool, err error) {
	now := time.Now()
	e := &entry{lastUsed: now}
	if ok {
		e.value = val
		e.expiresAt = now.Add(c.opts.TTL)
		e.staleAt = e.expiresAt.Add(c.opts.StaleWhileRevalidate)
	} else {
		if c.opts.NegativeTTL <= 0 {
			return
		}
		e.err = err
		e.negative = true
		e.expiresAt = now.Add(c.opts.NegativeTTL)
		e.staleAt = e.expiresAt
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = e
	c.evictIfNeeded()
	if c.hooks.OnStore != nil {
		c.hooks.OnStore(key)
	}
}

func (c *Cache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *Cache) evictIfNeeded() {
	if c.opts.MaxEntries <= 0 || len(c.items) <= c.opts.MaxEntries {
		return
	}
	// FIFO eviction keeps this simple; the catalog has few keys
	excess := len(c.items) - c.opts.MaxEntries
	for excess > 0 && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		delete(c.items, victim)
		excess--
	}
}

// Set stores a value directly with an explicit TTL.
func (c *Cache) Set(key string, val interface{}, ttl time.Duration) {
	now := time.Now()
	e := &entry{value: val, expiresAt: now.Add(ttl), staleAt: now.Add(ttl).Add(c.opts.StaleWhileRevalidate), lastUsed: now}
	c.mu.Lock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = e
	c.evictIfNeeded()
	c.mu.Unlock()
}

// Peek returns a cached value without triggering a load. Stale entries
// within the revalidate window are still returned.
func (c *Cache) Peek(key string) (interface{}, bool) {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok || e.negative || now.After(e.staleAt) {
		return nil, false
	}
	return e.value, true
}

// Delete removes a key, forcing the next Get to reload. Used when
// storefront settings change and the cached catalog must be rebuilt.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.removeFromOrder(key)
	c.mu.Unlock()
}
