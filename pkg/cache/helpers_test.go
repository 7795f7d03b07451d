package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/small-frappuccino/aperture/pkg/storage"
	"github.com/small-frappuccino/aperture/pkg/store"
)

var errDown = &storage.OpError{Op: "execute", Err: errors.New("connection refused")}

func newTempStore(t *testing.T) *storage.Store {
	t.Helper()
	s := storage.NewStore(filepath.Join(t.TempDir(), "cache.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func storesFor(s *storage.Store) Stores {
	return Stores{
		Prefixes:        s.Prefixes(),
		BlacklistGuilds: s.Flags(store.Guilds, store.Blacklisted),
		BlacklistUsers:  s.Flags(store.Users, store.Blacklisted),
		PremiumGuilds:   s.Flags(store.Guilds, store.Premium),
		PremiumUsers:    s.Flags(store.Users, store.Premium),
		Usage:           s.CommandStats(),
	}
}

func newTestManager(t *testing.T) (*Manager, *storage.Store) {
	t.Helper()
	s := newTempStore(t)
	m, err := NewManager(storesFor(s), Options{DefaultPrefix: "a!", FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.FillAll(context.Background()); err != nil {
		t.Fatalf("fill: %v", err)
	}
	return m, s
}

// countingPrefixes counts store reads.
type countingPrefixes struct {
	KeyedStore[uint64, string]
	loads atomic.Int32
}

func (c *countingPrefixes) Load(ctx context.Context, k uint64) (string, bool, error) {
	c.loads.Add(1)
	return c.KeyedStore.Load(ctx, k)
}

// switchPrefixes fails every call while down is set.
type switchPrefixes struct {
	KeyedStore[uint64, string]
	down atomic.Bool
}

func (s *switchPrefixes) Load(ctx context.Context, k uint64) (string, bool, error) {
	if s.down.Load() {
		return "", false, errDown
	}
	return s.KeyedStore.Load(ctx, k)
}

func (s *switchPrefixes) Save(ctx context.Context, k uint64, v string) error {
	if s.down.Load() {
		return errDown
	}
	return s.KeyedStore.Save(ctx, k, v)
}

func (s *switchPrefixes) Delete(ctx context.Context, k uint64) error {
	if s.down.Load() {
		return errDown
	}
	return s.KeyedStore.Delete(ctx, k)
}

// countingFlags counts every store call.
type countingFlags struct {
	FlagStore
	calls atomic.Int32
	down  atomic.Bool
}

func (c *countingFlags) SetFlag(ctx context.Context, id uint64, on bool) error {
	c.calls.Add(1)
	if c.down.Load() {
		return errDown
	}
	return c.FlagStore.SetFlag(ctx, id, on)
}

func (c *countingFlags) ListFlagged(ctx context.Context) ([]uint64, error) {
	c.calls.Add(1)
	if c.down.Load() {
		return nil, errDown
	}
	return c.FlagStore.ListFlagged(ctx)
}

// memorySink records batches and can block or fail on demand.
type memorySink struct {
	mu      sync.Mutex
	batches [][]store.UsageEvent
	fail    atomic.Bool

	started chan struct{}
	release chan struct{}
}

func (m *memorySink) InsertCommandStats(ctx context.Context, events []store.UsageEvent) error {
	if m.started != nil {
		m.started <- struct{}{}
		<-m.release
	}
	if m.fail.Load() {
		return errDown
	}
	cp := append([]store.UsageEvent(nil), events...)
	m.mu.Lock()
	m.batches = append(m.batches, cp)
	m.mu.Unlock()
	return nil
}

func (m *memorySink) all() []store.UsageEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.UsageEvent
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

// pausedPrefixes reads every row and then holds LoadAll until release closes.
type pausedPrefixes struct {
	KeyedStore[uint64, string]
	started chan struct{}
	release chan struct{}
}

func (p *pausedPrefixes) LoadAll(ctx context.Context, each func(uint64, string)) error {
	type row struct {
		k uint64
		v string
	}
	var rows []row
	if err := p.KeyedStore.LoadAll(ctx, func(k uint64, v string) { rows = append(rows, row{k, v}) }); err != nil {
		return err
	}
	close(p.started)
	<-p.release
	for _, r := range rows {
		each(r.k, r.v)
	}
	return nil
}

// pausedFlags lists the flagged ids and then holds ListFlagged until release
// closes.
type pausedFlags struct {
	FlagStore
	started chan struct{}
	release chan struct{}
}

func (p *pausedFlags) ListFlagged(ctx context.Context) ([]uint64, error) {
	ids, err := p.FlagStore.ListFlagged(ctx)
	close(p.started)
	<-p.release
	return ids, err
}

// gatedPrefixes counts reads and holds each one until release closes or the
// read's context ends.
type gatedPrefixes struct {
	KeyedStore[uint64, string]
	loads   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (g *gatedPrefixes) Load(ctx context.Context, k uint64) (string, bool, error) {
	if g.loads.Add(1) == 1 {
		close(g.started)
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
	return g.KeyedStore.Load(ctx, k)
}
