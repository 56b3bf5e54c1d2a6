// Package cache holds compiled execution plans so repeated statements skip
// planning. Cached plans are templates: callers always run a copy.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/zeebo/xxh3"

	"github.com/fnuworsu/rdgql/pkg/exec"
)

// Key hashes a normalized statement text into a cache key
func Key(statement string) uint64 {
	return xxh3.HashString(statement)
}

// PlanCache is an LRU of plan templates with a time-to-live
type PlanCache struct {
	lru     *expirable.LRU[uint64, *exec.Plan]
	enabled bool

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a plan cache holding up to size plans for ttl each. A zero
// ttl keeps plans until they are evicted by size.
func New(size int, ttl time.Duration) *PlanCache {
	if size <= 0 {
		size = 1000
	}
	return &PlanCache{
		lru:     expirable.NewLRU[uint64, *exec.Plan](size, nil, ttl),
		enabled: true,
	}
}

// Disabled returns a cache that never stores anything
func Disabled() *PlanCache {
	return &PlanCache{lru: expirable.NewLRU[uint64, *exec.Plan](1, nil, 0)}
}

// Enabled reports whether the cache stores plans
func (c *PlanCache) Enabled() bool { return c.enabled }

// Get returns a fresh copy of the plan cached under key
func (c *PlanCache) Get(ctx *exec.Context, key uint64) (*exec.Plan, bool) {
	if !c.enabled {
		return nil, false
	}
	plan, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return plan.Copy(ctx), true
}

// Put stores a copy of plan under key. Plans that cannot be cached are
// ignored and Put reports false.
func (c *PlanCache) Put(ctx *exec.Context, key uint64, plan *exec.Plan) bool {
	if !c.enabled || plan == nil || !plan.CanBeCached() {
		return false
	}
	c.lru.Add(key, plan.Copy(ctx))
	return true
}

// Len returns the number of cached plans
func (c *PlanCache) Len() int { return c.lru.Len() }

// Purge drops every cached plan
func (c *PlanCache) Purge() { c.lru.Purge() }

// Stats returns the hit and miss counters
func (c *PlanCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
