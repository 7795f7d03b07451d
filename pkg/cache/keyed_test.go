package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/small-frappuccino/aperture/pkg/storage"
)

func TestKeyedCacheGetOrFetchPopulates(t *testing.T) {
	s := newTempStore(t)
	ctx := context.Background()
	if err := s.Prefixes().Save(ctx, 1, "xy!"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	counting := &countingPrefixes{KeyedStore: s.Prefixes()}
	c, err := NewKeyedCache[uint64, string]("prefixes", counting, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	for i := 0; i < 3; i++ {
		v, ok, err := c.GetOrFetch(ctx, 1)
		if err != nil || !ok || v != "xy!" {
			t.Fatalf("lookup %d: %q ok=%v err=%v", i, v, ok, err)
		}
	}
	if got := counting.loads.Load(); got != 1 {
		t.Fatalf("expected one store read, got %d", got)
	}

	if _, ok, err := c.GetOrFetch(ctx, 2); err != nil || ok {
		t.Fatalf("expected miss for unknown key, ok=%v err=%v", ok, err)
	}
	if _, ok := c.Cached(2); ok {
		t.Fatalf("a store miss must not populate memory")
	}
}

func TestKeyedCacheInsertFailureLeavesMemory(t *testing.T) {
	s := newTempStore(t)
	ctx := context.Background()
	sw := &switchPrefixes{KeyedStore: s.Prefixes()}
	c, _ := NewKeyedCache[uint64, string]("prefixes", sw, 0)

	if err := c.Insert(ctx, 7, "old"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	sw.down.Store(true)
	err := c.Insert(ctx, 7, "new")
	if !errors.Is(err, storage.ErrStoreUnavailable) {
		t.Fatalf("expected store error to propagate, got %v", err)
	}
	if v, _ := c.Cached(7); v != "old" {
		t.Fatalf("memory changed despite failed store write: %q", v)
	}
	if _, _, err := c.GetOrFetch(ctx, 8); !errors.Is(err, storage.ErrStoreUnavailable) {
		t.Fatalf("expected fetch error to propagate, got %v", err)
	}
	if err := c.Remove(ctx, 7); err == nil {
		t.Fatalf("expected remove to fail while store is down")
	}
	if _, ok := c.Cached(7); !ok {
		t.Fatalf("failed remove must not evict")
	}
}

func TestKeyedCacheRemoveIsIdempotent(t *testing.T) {
	s := newTempStore(t)
	ctx := context.Background()
	c, _ := NewKeyedCache[uint64, string]("prefixes", s.Prefixes(), 0)

	if err := c.Remove(ctx, 99); err != nil {
		t.Fatalf("remove of absent key: %v", err)
	}
	_ = c.Insert(ctx, 5, "p")
	if err := c.Remove(ctx, 5); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := c.GetOrFetch(ctx, 5); ok {
		t.Fatalf("expected key gone from memory and store")
	}
}

func TestKeyedCacheEvictionRefetches(t *testing.T) {
	s := newTempStore(t)
	ctx := context.Background()
	counting := &countingPrefixes{KeyedStore: s.Prefixes()}
	c, _ := NewKeyedCache[uint64, string]("prefixes", counting, 2)

	for id := uint64(1); id <= 3; id++ {
		if err := c.Insert(ctx, id, "p"); err != nil {
			t.Fatalf("insert %d: %v", id, err)
		}
	}
	if c.Len() != 2 {
		t.Fatalf("expected bound of 2, got %d", c.Len())
	}
	if _, ok := c.Cached(1); ok {
		t.Fatalf("expected oldest key evicted")
	}
	if v, ok, err := c.GetOrFetch(ctx, 1); err != nil || !ok || v != "p" {
		t.Fatalf("evicted key must be re-fetched: %q %v %v", v, ok, err)
	}
	if counting.loads.Load() != 1 {
		t.Fatalf("expected exactly one store read")
	}
}

func TestKeyedCacheFill(t *testing.T) {
	s := newTempStore(t)
	ctx := context.Background()
	_ = s.Prefixes().Save(ctx, 1, "a")
	_ = s.Prefixes().Save(ctx, 2, "b")

	c, _ := NewKeyedCache[uint64, string]("prefixes", s.Prefixes(), 0)
	if err := c.Fill(ctx); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if v, ok := c.Cached(2); !ok || v != "b" {
		t.Fatalf("expected filled entry, got %q %v", v, ok)
	}
}

func TestKeyedCacheFillKeepsConcurrentWrites(t *testing.T) {
	s := newTempStore(t)
	ctx := context.Background()
	_ = s.Prefixes().Save(ctx, 1, "a")
	_ = s.Prefixes().Save(ctx, 2, "b")

	paused := &pausedPrefixes{KeyedStore: s.Prefixes(), started: make(chan struct{}), release: make(chan struct{})}
	c, _ := NewKeyedCache[uint64, string]("prefixes", paused, 0)

	filled := make(chan error, 1)
	go func() { filled <- c.Fill(ctx) }()
	<-paused.started

	// Both rows were read before these writes.
	if err := c.Remove(ctx, 1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := c.Insert(ctx, 2, "new"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	close(paused.release)
	if err := <-filled; err != nil {
		t.Fatalf("fill: %v", err)
	}

	if v, ok := c.Cached(1); ok {
		t.Fatalf("fill brought back removed key with %q", v)
	}
	if v, _ := c.Cached(2); v != "new" {
		t.Fatalf("fill overwrote a newer insert: %q", v)
	}
}
