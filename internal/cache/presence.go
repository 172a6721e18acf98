// Package cache provides a TTL'd presence cache used to avoid redundant
// database existence probes for users and posts already known to exist.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// presenceTTL is the window a presence marking stays valid before a fresh
// probe is required.
const presenceTTL = 24 * time.Hour

// Presence is a TTL'd boolean membership cache keyed by DID (for users) or
// AT-URI (for posts). A hit means "this entity is known to exist in the
// database as of the last time we checked"; a miss means "probe the
// database" — it never means "does not exist".
type Presence struct {
	cache *expirable.LRU[string, struct{}]
}

// NewPresence creates a presence cache holding up to size keys, each
// expiring presenceTTL after insertion.
func NewPresence(size int) *Presence {
	return &Presence{
		cache: expirable.NewLRU[string, struct{}](size, nil, presenceTTL),
	}
}

// Has reports whether key was marked present and hasn't expired.
func (p *Presence) Has(key string) bool {
	_, ok := p.cache.Get(key)
	return ok
}

// Mark records key as present, resetting its TTL.
func (p *Presence) Mark(key string) {
	p.cache.Add(key, struct{}{})
}

// Purge removes key from the cache, used when an entity is deleted so a
// stale presence hit doesn't mask the deletion.
func (p *Presence) Purge(key string) {
	p.cache.Remove(key)
}
