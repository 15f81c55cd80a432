package cache

import (
	"errors"
	"fmt"
	"sync"
)

// ErrPoisoned is returned by Lock once a writer panicked while holding the
// lock, leaving the contents in an unknown state.
//
var ErrPoisoned = errors.New("cache poisoned")

// Cache is the lock-protected store of dataplane entities.
//
type Cache struct {
	mu       sync.Mutex
	poisoned bool
	pools    Pools
}

// Guard gives access to the cache contents while the lock is held. It must
// be released with Unlock.
//
type Guard struct {
	c        *Cache
	released bool
}

// New instantiates an empty cache.
//
func New() *Cache {
	return &Cache{}
}

// Lock acquires the cache lock, failing if the cache has been poisoned.
//
func (c *Cache) Lock() (*Guard, error) {
	c.mu.Lock()

	if c.poisoned {
		c.mu.Unlock()
		return nil, fmt.Errorf("lock: %w", ErrPoisoned)
	}

	return &Guard{c: c}, nil
}

// Pools returns the pools held by the cache. The returned value must not be
// used after Unlock.
//
func (g *Guard) Pools() *Pools {
	return &g.c.pools
}

// Unlock releases the lock. Calling it more than once is a no-op.
//
func (g *Guard) Unlock() {
	if g.released {
		return
	}

	g.released = true
	g.c.mu.Unlock()
}

// Update runs fn with the lock held. If fn panics the cache is marked as
// poisoned and the panic is propagated to the caller.
//
func (c *Cache) Update(fn func(p *Pools)) error {
	guard, err := c.Lock()
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}

	completed := false
	defer func() {
		if !completed {
			c.poisoned = true
		}
		guard.Unlock()
	}()

	fn(&c.pools)
	completed = true

	return nil
}

// ReplacePools swaps the whole pool set in one critical section.
//
func (c *Cache) ReplacePools(items []PoolInfo) error {
	return c.Update(func(p *Pools) {
		p.Set(items)
	})
}
