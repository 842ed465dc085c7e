// Package opstate implements the managed operator state streaming join,
// top-N, and aggregation executors keep between barriers: an LRU-bounded
// hash-join side cache, a three-tier top-N cache supporting WITH TIES, and
// per-group aggregation state that tracks the top-K candidate values needed
// to answer MIN/MAX without rescanning the state table on every retraction.
package opstate

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/cascadedb/cascade/pkg/common"
)

// JoinCache caches the matching rows for one side of a hash join, keyed by
// the join key's encoded bytes, bounded to capacity entries so a node with
// many distinct keys doesn't hold the whole side in memory — evicted keys
// fall back to a state-table point lookup on the next probe.
type JoinCache struct {
	cache *lru.Cache
}

// NewJoinCache returns a JoinCache holding up to capacity distinct join
// keys.
func NewJoinCache(capacity int) (*JoinCache, error) {
	c, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}
	return &JoinCache{cache: c}, nil
}

// Get returns the cached row set for key, if resident.
func (c *JoinCache) Get(key string) ([]common.Row, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]common.Row), true
}

// Put caches rows for key, evicting the least-recently-used key if the
// cache is at capacity.
func (c *JoinCache) Put(key string, rows []common.Row) {
	c.cache.Add(key, rows)
}

// Insert appends one row to key's cached set if key is resident; a cache
// miss is a no-op, since an evicted key's true row set lives only in the
// state table and this insert will be visible there too.
func (c *JoinCache) Insert(key string, row common.Row) {
	if v, ok := c.cache.Get(key); ok {
		c.cache.Add(key, append(v.([]common.Row), row))
	}
}

// Remove deletes every row for which matches returns true from key's cached
// set, if resident.
func (c *JoinCache) Remove(key string, matches func(common.Row) bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return
	}
	rows := v.([]common.Row)
	kept := rows[:0]
	for _, r := range rows {
		if !matches(r) {
			kept = append(kept, r)
		}
	}
	c.cache.Add(key, kept)
}

// Drop evicts key entirely, forcing the next probe to reload from the
// state table.
func (c *JoinCache) Drop(key string) {
	c.cache.Remove(key)
}

// Len reports the number of distinct keys currently cached.
func (c *JoinCache) Len() int { return c.cache.Len() }
