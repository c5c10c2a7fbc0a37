// Package tokencache keeps short-lived access tokens in memory, keyed by
// account and scope set. Nothing is ever written to disk.
package tokencache

import (
	"sync"
	"time"

	"github.com/alecgard/riff/internal/identity"
)

// DefaultSkew is subtracted from a token's expiry so callers never receive a
// token about to lapse in flight.
const DefaultSkew = 2 * time.Minute

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]identity.Token
	skew    time.Duration
	now     func() time.Time
}

// New creates an empty cache with the given expiry skew. A zero skew uses
// DefaultSkew.
func New(skew time.Duration) *Cache {
	if skew == 0 {
		skew = DefaultSkew
	}
	return &Cache{
		entries: make(map[string]identity.Token),
		skew:    skew,
		now:     time.Now,
	}
}

func key(accountID string, scopes []string) string {
	return accountID + "|" + identity.ScopeKey(scopes)
}

// Get returns a usable token for the account and scopes.
func (c *Cache) Get(accountID string, scopes []string) (*identity.Token, bool) {
	k := key(accountID, scopes)

	c.mu.RLock()
	tok, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if !tok.ExpiresAt.IsZero() && !c.now().Before(tok.ExpiresAt.Add(-c.skew)) {
		c.mu.Lock()
		// Only drop the entry we judged expired; a fresh Put may have replaced it.
		if cur, still := c.entries[k]; still && cur.ExpiresAt.Equal(tok.ExpiresAt) {
			delete(c.entries, k)
		}
		c.mu.Unlock()
		return nil, false
	}
	return &tok, true
}

// Put stores tok under its own account and the requested scopes.
func (c *Cache) Put(scopes []string, tok *identity.Token) {
	if tok == nil || tok.Value == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key(tok.AccountID, scopes)] = *tok
}

// Clear drops every token.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
