package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// tokenCacheEntry stores cached claims and their cache expiration time.
type tokenCacheEntry struct {
	claims    *TokenClaims
	expiresAt time.Time
}

// tokenCache provides an in-memory cache for validated token claims, keyed
// by the SHA-256 hash of the token string. This avoids re-parsing and
// re-verifying tokens on every request. Hashing the token keeps raw bearer
// tokens out of process memory maps.
type tokenCache struct {
	mu      sync.RWMutex
	entries map[string]*tokenCacheEntry
	maxSize int
	ttl     time.Duration
}

// newTokenCache creates a token cache with the given TTL and maximum number
// of entries.
func newTokenCache(ttl time.Duration, maxSize int) *tokenCache {
	return &tokenCache{
		entries: make(map[string]*tokenCacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// get retrieves cached claims by token hash. Returns the claims and true if
// the entry exists and has not expired, or nil and false otherwise.
func (c *tokenCache) get(tokenHash string) (*TokenClaims, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[tokenHash]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.claims, true
}

// put stores validated claims in the cache. The effective cache TTL is the
// minimum of the configured TTL and the time remaining until the token's
// expiration (tokenExp). If the cache is at capacity, expired entries are
// evicted first; if still at capacity, the oldest entry is removed.
func (c *tokenCache) put(tokenHash string, claims *TokenClaims, tokenExp time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Effective TTL: min(cache TTL, token remaining lifetime).
	ttl := c.ttl
	remaining := time.Until(tokenExp)
	if remaining > 0 && remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return // Token already expired; do not cache.
	}

	expiresAt := time.Now().Add(ttl)

	// Evict if at capacity.
	if len(c.entries) >= c.maxSize {
		c.evictExpiredLocked()
	}
	if len(c.entries) >= c.maxSize {
		// Evict the oldest entry (earliest expiresAt).
		var oldestKey string
		var oldestTime time.Time
		first := true
		for k, v := range c.entries {
			if first || v.expiresAt.Before(oldestTime) {
				oldestKey = k
				oldestTime = v.expiresAt
				first = false
			}
		}
		if oldestKey != "" {
			delete(c.entries, oldestKey)
		}
	}

	c.entries[tokenHash] = &tokenCacheEntry{
		claims:    claims,
		expiresAt: expiresAt,
	}
}

// evictExpired removes all expired entries from the cache. This method
// acquires the write lock and is safe for concurrent use.
func (c *tokenCache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpiredLocked()
}

// evictExpiredLocked removes all expired entries. Caller must hold the
// write lock.
func (c *tokenCache) evictExpiredLocked() {
	now := time.Now()
	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// size returns the current number of cached entries.
func (c *tokenCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// hashToken computes the hex-encoded SHA-256 hash of a token string for use
// as a cache key.
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
