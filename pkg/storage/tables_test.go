package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/small-frappuccino/aperture/pkg/store"
)

func TestPrefixTableRoundTrip(t *testing.T) {
	s := newTempStore(t)
	ctx := context.Background()
	prefixes := s.Prefixes()

	if err := prefixes.Save(ctx, 10, "x!"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := prefixes.Save(ctx, 10, "y!"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if p, ok, err := prefixes.Load(ctx, 10); err != nil || !ok || p != "y!" {
		t.Fatalf("expected y!, got %q ok=%v err=%v", p, ok, err)
	}

	if err := prefixes.Delete(ctx, 10); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := prefixes.Delete(ctx, 10); err != nil {
		t.Fatalf("delete of missing row must not fail: %v", err)
	}
	if _, ok, _ := prefixes.Load(ctx, 10); ok {
		t.Fatalf("expected row to be gone")
	}
}

func TestPrefixSaveIfAbsentKeepsExisting(t *testing.T) {
	s := newTempStore(t)
	ctx := context.Background()
	prefixes := s.Prefixes()

	got, err := prefixes.SaveIfAbsent(ctx, 5, "a!")
	if err != nil || got != "a!" {
		t.Fatalf("first upsert: %q %v", got, err)
	}
	if err := prefixes.Save(ctx, 5, "custom"); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = prefixes.SaveIfAbsent(ctx, 5, "a!")
	if err != nil || got != "custom" {
		t.Fatalf("expected existing prefix to win, got %q %v", got, err)
	}
}

func TestPrefixSaveIfAbsentConcurrent(t *testing.T) {
	s := newTempStore(t)
	ctx := context.Background()
	prefixes := s.Prefixes()

	const n = 16
	results := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = prefixes.SaveIfAbsent(ctx, 77, "a!")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil || results[i] != "a!" {
			t.Fatalf("caller %d: %q %v", i, results[i], errs[i])
		}
	}
	var rows int64
	if _, err := s.FetchRow(ctx, `SELECT COUNT(*) FROM prefixes WHERE guild_id = ?`, []any{int64(77)}, &rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected exactly one row, got %d", rows)
	}
}

func TestPrefixLoadAll(t *testing.T) {
	s := newTempStore(t)
	ctx := context.Background()
	_ = s.Prefixes().Save(ctx, 1, "a")
	_ = s.Prefixes().Save(ctx, 2, "b")

	got := map[uint64]string{}
	if err := s.Prefixes().LoadAll(ctx, func(id uint64, p string) { got[id] = p }); err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(got) != 2 || got[1] != "a" || got[2] != "b" {
		t.Fatalf("unexpected prefixes: %v", got)
	}
}

func TestFlagTableSetAndList(t *testing.T) {
	s := newTempStore(t)
	ctx := context.Background()
	bl := s.Flags(store.Guilds, store.Blacklisted)
	prem := s.Flags(store.Guilds, store.Premium)

	for _, id := range []uint64{101, 303} {
		if err := bl.SetFlag(ctx, id, true); err != nil {
			t.Fatalf("set flag: %v", err)
		}
	}
	if err := bl.SetFlag(ctx, 101, true); err != nil {
		t.Fatalf("re-set flag must be idempotent: %v", err)
	}
	if err := prem.SetFlag(ctx, 101, true); err != nil {
		t.Fatalf("premium flag: %v", err)
	}
	if err := bl.SetFlag(ctx, 999, false); err != nil {
		t.Fatalf("clearing an unknown id must not fail: %v", err)
	}

	ids, err := bl.ListFlagged(ctx)
	if err != nil || len(ids) != 2 {
		t.Fatalf("expected two blacklisted guilds, got %v %v", ids, err)
	}

	if err := bl.SetFlag(ctx, 101, false); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if on, _ := bl.IsFlagged(ctx, 101); on {
		t.Fatalf("expected 101 cleared")
	}
	if on, _ := prem.IsFlagged(ctx, 101); !on {
		t.Fatalf("clearing blacklist must not touch premium")
	}
}

func TestFlagTableUsers(t *testing.T) {
	s := newTempStore(t)
	ctx := context.Background()
	users := s.Flags(store.Users, store.Premium)
	if err := users.SetFlag(ctx, 8, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ids, _ := s.Flags(store.Guilds, store.Premium).ListFlagged(ctx); len(ids) != 0 {
		t.Fatalf("user flag leaked into guilds_core: %v", ids)
	}
	if ids, _ := users.ListFlagged(ctx); len(ids) != 1 || ids[0] != 8 {
		t.Fatalf("unexpected users: %v", ids)
	}
}

func TestCommandStats(t *testing.T) {
	s := newTempStore(t)
	ctx := context.Background()
	stats := s.CommandStats()

	events := []store.UsageEvent{
		{Name: "ping", Type: store.CommandTypeMessage, UserID: 1, GuildID: 42},
		{Name: "ping", Type: store.CommandTypeMessage, UserID: 2, GuildID: 42},
		{Name: "prefix", Type: store.CommandTypeMessage, UserID: 1, GuildID: 42},
		{Name: "ping", Type: store.CommandTypeMessage, UserID: 1},
	}
	if err := stats.InsertCommandStats(ctx, events); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if n, err := stats.Count(ctx); err != nil || n != 4 {
		t.Fatalf("expected 4 rows, got %d %v", n, err)
	}

	top, err := stats.TopCommands(ctx, 0, 5)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 2 || top[0].Name != "ping" || top[0].Uses != 3 || top[0].Users != 2 {
		t.Fatalf("unexpected top commands: %+v", top)
	}

	var nulls int64
	if _, err := s.FetchRow(ctx, `SELECT COUNT(*) FROM command_stats WHERE guild_id IS NULL`, nil, &nulls); err != nil || nulls != 1 {
		t.Fatalf("expected direct message usage stored with NULL guild, got %d %v", nulls, err)
	}

	inGuild, err := stats.TopCommands(ctx, 42, 5)
	if err != nil || len(inGuild) != 2 || inGuild[0].Uses != 2 {
		t.Fatalf("unexpected guild top commands: %+v %v", inGuild, err)
	}
}
