// Package cache implements the origin cache of spec.md §4.2: a process-wide
// mapping from domain authority to the resolved Origin, guarded by a
// readers-writer lock, refreshed by an atomic full-map swap. Shaped after
// orchestration/cache.go's SimpleCache.
package cache

import (
	"sync"

	"github.com/soldrproxy/soldr/internal/domain"
)

// Mirror is an optional write-behind sink notified on every Refresh. The
// Redis-backed implementation in this package's redis.go gives
// go-redis/redis/v8 (a teacher dependency otherwise unused by a
// single-node proxy) a home as an operational visibility mirror; it is
// never consulted by Get (see SPEC_FULL.md §4.2).
type Mirror interface {
	Mirror(origins []domain.Origin)
}

// noopMirror is used when no Redis URL is configured.
type noopMirror struct{}

func (noopMirror) Mirror([]domain.Origin) {}

// OriginCache is the in-memory authority -> Origin map read by the
// delivery state machine's UnmappedOrigin transition and rewritten by the
// management API after every origins mutation.
type OriginCache struct {
	mu     sync.RWMutex
	byHost map[string]domain.Origin
	mirror Mirror
}

// New returns an empty cache with no mirror configured.
func New() *OriginCache {
	return &OriginCache{
		byHost: make(map[string]domain.Origin),
		mirror: noopMirror{},
	}
}

// SetMirror installs a write-behind mirror invoked after every Refresh.
func (c *OriginCache) SetMirror(m Mirror) {
	if m == nil {
		m = noopMirror{}
	}
	c.mu.Lock()
	c.mirror = m
	c.mu.Unlock()
}

// Get returns a copy of the Origin matching authority, case-sensitively,
// and whether one was found. A miss is authoritative between refreshes
// (spec.md invariant 6): it does not trigger a reload.
func (c *OriginCache) Get(authority string) (domain.Origin, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.byHost[authority]
	return o, ok
}

// Refresh atomically replaces the entire mapping with origins, keyed by
// Domain. Readers observe either the pre- or post-refresh map, never a
// partially populated one (spec.md §4.2, invariant 6).
func (c *OriginCache) Refresh(origins []domain.Origin) {
	next := make(map[string]domain.Origin, len(origins))
	for _, o := range origins {
		next[o.Domain] = o
	}

	c.mu.Lock()
	c.byHost = next
	mirror := c.mirror
	c.mu.Unlock()

	mirror.Mirror(origins)
}

// Len reports how many origins are currently cached, for diagnostics.
func (c *OriginCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byHost)
}
