package credentials

import (
	"chat-relay/internal/clock"
	"sync"
	"time"
)

type cacheEntry struct {
	key       string
	expiresAt time.Time
}

// keyCache holds decrypted credentials per user for a bounded time so
// every chat turn does not pay the KDF cost. Eviction is deterministic:
// an entry past its deadline is removed on the access that observes it.
type keyCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   clock.Clock
	entries map[string]cacheEntry
}

func newKeyCache(ttl time.Duration, clk clock.Clock) *keyCache {
	return &keyCache{
		ttl:     ttl,
		clock:   clk,
		entries: make(map[string]cacheEntry),
	}
}

func (c *keyCache) get(userID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[userID]
	if !ok {
		return "", false
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		delete(c.entries, userID)
		return "", false
	}
	return entry.key, true
}

func (c *keyCache) put(userID, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[userID] = cacheEntry{
		key:       key,
		expiresAt: c.clock.Now().Add(c.ttl),
	}
}

func (c *keyCache) invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, userID)
}
