package ledger

import (
	"sync"
	"time"
)

// balanceCache is a short-TTL read cache in front of GetBalance. Only
// loan-free accounts are cached: for them normalization is a no-op, so
// a cached read skips nothing. Every write path invalidates its key.
type balanceCache struct {
	mu      sync.Mutex
	entries map[AccountID]cacheEntry
	ttl     time.Duration
	done    chan struct{}
}

type cacheEntry struct {
	wallet   int64
	cachedAt time.Time
}

func newBalanceCache(ttl time.Duration) *balanceCache {
	c := &balanceCache{
		entries: make(map[AccountID]cacheEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.janitor()
	return c
}

func (c *balanceCache) get(id AccountID) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || time.Since(e.cachedAt) > c.ttl {
		delete(c.entries, id)
		return 0, false
	}
	return e.wallet, true
}

func (c *balanceCache) put(id AccountID, wallet int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = cacheEntry{wallet: wallet, cachedAt: time.Now()}
}

func (c *balanceCache) invalidate(id AccountID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

func (c *balanceCache) stop() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *balanceCache) janitor() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-c.ttl)
			c.mu.Lock()
			for id, e := range c.entries {
				if e.cachedAt.Before(cutoff) {
					delete(c.entries, id)
				}
			}
			c.mu.Unlock()
		}
	}
}
