package session

import (
	"sync"
	"time"
)

// Lockable is the credential side of an unlock-cache query: something that
// can be forced back into its locked state.
type Lockable interface {
	Lock()
}

// UnlockCache remembers, per address, until when a successful password unlock
// may be reused. Expiry is evaluated lazily at query time; there is no
// background sweeper.
type UnlockCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	expiries map[string]time.Time
}

// NewUnlockCache creates an unlock cache with the given default window.
func NewUnlockCache(ttl time.Duration) *UnlockCache {
	return &UnlockCache{
		ttl:      ttl,
		expiries: make(map[string]time.Time),
	}
}

// Extend marks the address as unlocked for the default window, called after a
// successful password unlock with the "remember" flag set.
func (c *UnlockCache) Extend(address string) {
	c.ExtendFor(address, c.ttl)
}

// ExtendFor marks the address as unlocked for a caller-chosen window.
func (c *UnlockCache) ExtendFor(address string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expiries[address] = time.Now().Add(d)
}

// RemainingTime returns how much of the unlock window is left for the
// address, or 0 when it has expired or was never cached. Discovering expiry
// also locks the credential: the cache is the single source of truth for "no
// password needed", so a stale in-memory key must not outlive it.
func (c *UnlockCache) RemainingTime(address string, credential Lockable) time.Duration {
	c.mu.Lock()
	expiry, ok := c.expiries[address]
	remaining := time.Until(expiry)
	if !ok || remaining <= 0 {
		delete(c.expiries, address)
		c.mu.Unlock()

		if credential != nil {
			credential.Lock()
		}
		return 0
	}
	c.mu.Unlock()

	return remaining
}

// Forget drops the cached unlock for an address without touching the
// credential.
func (c *UnlockCache) Forget(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.expiries, address)
}
