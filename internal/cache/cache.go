// Package cache implements the LRU table tracker of spec §4.5: it does
// not hold table data itself, only access-order bookkeeping used by the
// table manager to decide which resident tables to evict.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mikrodb/mikrodb/internal/types"
)

// unboundedCapacity sizes the backing LRU large enough that it never
// evicts on its own; eviction decisions are made explicitly by
// findTablesForEviction and applied by the table manager, which needs
// to flush a victim to disk before dropping it from memory.
const unboundedCapacity = 1 << 20

// Tracker records the last-access timestamp of each resident table and
// answers eviction and expiration queries for the table manager.
type Tracker struct {
	lru *lru.Cache[string, int64]
}

// New creates a tracker. It holds no cache limit of its own: callers
// pass the limit to FindTablesForEviction, and the tracker never
// rejects an Add.
func New() *Tracker {
	c, _ := lru.New[string, int64](unboundedCapacity)
	return &Tracker{lru: c}
}

// TrackTableAccess records table as accessed at timestamp nowMs,
// refreshing its recency.
func (t *Tracker) TrackTableAccess(table string, nowMs int64) {
	t.lru.Add(table, nowMs)
}

// Forget removes a table from the tracker, e.g. after it has been
// evicted or explicitly deleted.
func (t *Tracker) Forget(table string) {
	t.lru.Remove(table)
}

// Len returns the number of tables currently tracked.
func (t *Tracker) Len() int {
	return t.lru.Len()
}

// FindTablesForEviction returns the (currentCount - limit) least
// recently accessed tables, oldest first, and removes them from the
// tracker. Returns nil if currentCount <= limit.
func (t *Tracker) FindTablesForEviction(currentCount, limit int) []string {
	n := currentCount - limit
	if n <= 0 {
		return nil
	}

	keys := t.lru.Keys() // oldest-to-newest access order
	if n > len(keys) {
		n = len(keys)
	}
	victims := make([]string, n)
	copy(victims, keys[:n])

	for _, k := range victims {
		t.lru.Remove(k)
	}
	return victims
}

// FindExpiredItems returns the keys within records whose expiration is
// at or before nowMs.
func FindExpiredItems(records map[string]types.Record, nowMs uint64) []string {
	var expired []string
	for key, rec := range records {
		if rec.Expired(nowMs) {
			expired = append(expired, key)
		}
	}
	return expired
}
