package cache

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/small-frappuccino/aperture/pkg/telemetry"
)

// DefaultKeyedCacheSize bounds a KeyedCache when no size is given.
const DefaultKeyedCacheSize = 10000

// KeyedStore is the durable side of a KeyedCache.
type KeyedStore[K comparable, V any] interface {
	Load(ctx context.Context, key K) (V, bool, error)
	Save(ctx context.Context, key K, value V) error
	// SaveIfAbsent stores value unless key already has one and returns the
	// value stored afterwards, in a single atomic operation.
	SaveIfAbsent(ctx context.Context, key K, value V) (V, error)
	Delete(ctx context.Context, key K) error
	LoadAll(ctx context.Context, each func(K, V)) error
}

// KeyedCache is a bounded read-through, write-through cache over a KeyedStore.
// Evicted keys are simply fetched again on the next lookup.
type KeyedCache[K comparable, V any] struct {
	name  string
	store KeyedStore[K, V]
	mem   *lru.Cache[K, V]
	locks keyedMutex[K]

	fillRun sync.Mutex
	fillMu  sync.Mutex
	// touched collects keys written while a Fill is running; nil otherwise.
	touched map[K]struct{}
}

// NewKeyedCache builds a cache holding at most size entries.
func NewKeyedCache[K comparable, V any](name string, store KeyedStore[K, V], size int) (*KeyedCache[K, V], error) {
	if size <= 0 {
		size = DefaultKeyedCacheSize
	}
	mem, err := lru.New[K, V](size)
	if err != nil {
		return nil, err
	}
	return &KeyedCache[K, V]{name: name, store: store, mem: mem}, nil
}

// Name identifies the cache in logs and metrics.
func (c *KeyedCache[K, V]) Name() string { return c.name }

// Cached returns the in-memory value without touching the store.
func (c *KeyedCache[K, V]) Cached(key K) (V, bool) {
	return c.mem.Get(key)
}

// GetOrFetch returns the cached value, falling back to the store on a miss
// and caching what it finds. A store miss returns false with a nil error.
func (c *KeyedCache[K, V]) GetOrFetch(ctx context.Context, key K) (V, bool, error) {
	if v, ok := c.mem.Get(key); ok {
		telemetry.CacheHit(c.name)
		return v, true, nil
	}
	telemetry.CacheMiss(c.name)

	unlock := c.locks.lock(key)
	defer unlock()

	// A writer may have populated the key while we waited.
	if v, ok := c.mem.Get(key); ok {
		return v, true, nil
	}
	v, ok, err := c.store.Load(ctx, key)
	if err != nil {
		var zero V
		return zero, false, err
	}
	if ok {
		c.mem.Add(key, v)
	}
	return v, ok, nil
}

// Insert writes value to the store and then to memory. If the store write
// fails, memory is left as it was.
func (c *KeyedCache[K, V]) Insert(ctx context.Context, key K, value V) error {
	unlock := c.locks.lock(key)
	defer unlock()
	c.touch(key)

	if err := c.store.Save(ctx, key, value); err != nil {
		return err
	}
	c.mem.Add(key, value)
	return nil
}

// InsertIfAbsent stores value unless the store already holds one for key,
// caches whichever value the store kept and returns it.
func (c *KeyedCache[K, V]) InsertIfAbsent(ctx context.Context, key K, value V) (V, error) {
	unlock := c.locks.lock(key)
	defer unlock()
	c.touch(key)

	stored, err := c.store.SaveIfAbsent(ctx, key, value)
	if err != nil {
		var zero V
		return zero, err
	}
	c.mem.Add(key, stored)
	return stored, nil
}

// Remove deletes key from the store and then evicts it. Removing an absent
// key is a no-op.
func (c *KeyedCache[K, V]) Remove(ctx context.Context, key K) error {
	unlock := c.locks.lock(key)
	defer unlock()
	c.touch(key)

	if err := c.store.Delete(ctx, key); err != nil {
		return err
	}
	c.mem.Remove(key)
	return nil
}

// Fill loads every stored entry into memory, up to the cache bound. A key
// inserted or removed while the fill runs keeps the writer's result, so a
// row read before a concurrent Remove is not brought back.
func (c *KeyedCache[K, V]) Fill(ctx context.Context) error {
	c.fillRun.Lock()
	defer c.fillRun.Unlock()

	c.fillMu.Lock()
	c.touched = make(map[K]struct{})
	c.fillMu.Unlock()
	defer func() {
		c.fillMu.Lock()
		c.touched = nil
		c.fillMu.Unlock()
	}()

	var keys []K
	var vals []V
	if err := c.store.LoadAll(ctx, func(k K, v V) {
		keys = append(keys, k)
		vals = append(vals, v)
	}); err != nil {
		return err
	}

	c.fillMu.Lock()
	defer c.fillMu.Unlock()
	for i, k := range keys {
		if _, ok := c.touched[k]; ok {
			continue
		}
		c.mem.ContainsOrAdd(k, vals[i])
	}
	return nil
}

// touch marks key as written for a running Fill. Writers call it before
// touching the store.
func (c *KeyedCache[K, V]) touch(key K) {
	c.fillMu.Lock()
	if c.touched != nil {
		c.touched[key] = struct{}{}
	}
	c.fillMu.Unlock()
}

// Len reports how many entries are held in memory.
func (c *KeyedCache[K, V]) Len() int { return c.mem.Len() }

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex[K]) lock(key K) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[K]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
