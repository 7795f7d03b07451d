package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/small-frappuccino/aperture/pkg/log"
	"github.com/small-frappuccino/aperture/pkg/telemetry"
)

// FlagStore is the durable side of a SetCache.
type FlagStore interface {
	SetFlag(ctx context.Context, id uint64, on bool) error
	ListFlagged(ctx context.Context) ([]uint64, error)
}

// SetCache mirrors the ids whose flag is set in a FlagStore.
//
// Writers are serialised with writeMu so the store and memory agree for every
// id once a write returns. Contains only reads memory, so an id flagged
// directly in the database is invisible until the next Fill.
type SetCache struct {
	name  string
	store FlagStore

	mu  sync.RWMutex
	ids map[uint64]struct{}

	writeMu sync.Mutex
	filled  atomic.Bool

	// exclude rejects inserts of ids it contains (premium vs. blacklist).
	exclude *SetCache
}

// NewSetCache builds an empty set over store.
func NewSetCache(name string, store FlagStore) *SetCache {
	return &SetCache{name: name, store: store, ids: make(map[uint64]struct{})}
}

// NewPremiumSetCache builds a set that refuses ids present in blacklist.
func NewPremiumSetCache(name string, store FlagStore, blacklist *SetCache) *SetCache {
	c := NewSetCache(name, store)
	c.exclude = blacklist
	return c
}

// Name identifies the set in logs and metrics.
func (c *SetCache) Name() string { return c.name }

// Fill replaces memory with every id flagged in the store. Writers wait for
// the fill, so an Insert or Remove is never undone by an older listing.
func (c *SetCache) Fill(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ids, err := c.store.ListFlagged(ctx)
	if err != nil {
		return err
	}

	next := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	c.mu.Lock()
	c.ids = next
	c.mu.Unlock()
	c.filled.Store(true)

	telemetry.SetCacheSize(c.name, len(next))
	log.DatabaseLogger().Debug("Set cache filled", "cache", c.name, "entries", len(next))
	return nil
}

// Filled reports whether Fill has completed at least once.
func (c *SetCache) Filled() bool { return c.filled.Load() }

// Insert flags id in the store and then adds it to memory. For a premium set
// a blacklisted id is rejected with *PremiumBlacklistedError before anything
// is written.
func (c *SetCache) Insert(ctx context.Context, id uint64) error {
	if c.exclude != nil {
		// Hold the blacklist writer so it cannot flag id between the check
		// and our write.
		c.exclude.writeMu.Lock()
		defer c.exclude.writeMu.Unlock()
		if c.exclude.Contains(id) {
			return &PremiumBlacklistedError{Set: c.name, ID: id}
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.store.SetFlag(ctx, id, true); err != nil {
		return err
	}
	c.mu.Lock()
	c.ids[id] = struct{}{}
	n := len(c.ids)
	c.mu.Unlock()

	telemetry.SetCacheSize(c.name, n)
	return nil
}

// Remove clears the flag in the store and then drops id from memory.
// Removing an id that is not flagged is a no-op.
func (c *SetCache) Remove(ctx context.Context, id uint64) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.store.SetFlag(ctx, id, false); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.ids, id)
	n := len(c.ids)
	c.mu.Unlock()

	telemetry.SetCacheSize(c.name, n)
	return nil
}

// Contains is a memory-only membership check.
func (c *SetCache) Contains(id uint64) bool {
	c.mu.RLock()
	_, ok := c.ids[id]
	c.mu.RUnlock()
	return ok
}

// Len reports the number of ids in memory.
func (c *SetCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

// Snapshot returns the ids in memory in ascending order.
func (c *SetCache) Snapshot() []uint64 {
	c.mu.RLock()
	out := make([]uint64, 0, len(c.ids))
	for id := range c.ids {
		out = append(out, id)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
