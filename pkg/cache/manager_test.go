package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/small-frappuccino/aperture/pkg/store"
)

func TestStartBeforeFillFails(t *testing.T) {
	s := newTempStore(t)
	m, err := NewManager(storesFor(s), Options{DefaultPrefix: "a!"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.StartPeriodicTasks(); !errors.Is(err, ErrNotFilled) {
		t.Fatalf("expected ErrNotFilled, got %v", err)
	}
	if err := m.FillAll(context.Background()); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := m.StartPeriodicTasks(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.StopPeriodicTasks(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestNewManagerRequiresPrefix(t *testing.T) {
	if _, err := NewManager(Stores{}, Options{}); err == nil {
		t.Fatalf("expected error for empty default prefix")
	}
}

func TestFillAllLoadsEverything(t *testing.T) {
	s := newTempStore(t)
	ctx := context.Background()
	_ = s.Prefixes().Save(ctx, 1, "p!")
	_ = s.Flags(store.Guilds, store.Blacklisted).SetFlag(ctx, 2, true)
	_ = s.Flags(store.Users, store.Blacklisted).SetFlag(ctx, 3, true)
	_ = s.Flags(store.Guilds, store.Premium).SetFlag(ctx, 4, true)
	_ = s.Flags(store.Users, store.Premium).SetFlag(ctx, 5, true)

	m, err := NewManager(storesFor(s), Options{DefaultPrefix: "a!"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.FillAll(ctx); err != nil {
		t.Fatalf("fill: %v", err)
	}
	st := m.Stats()
	if !st.Filled || st.Prefixes != 1 || st.BlacklistedGuilds != 1 || st.BlacklistedUsers != 1 || st.PremiumGuilds != 1 || st.PremiumUsers != 1 {
		t.Fatalf("unexpected stats after fill: %+v", st)
	}
	if !m.IsBlacklisted(2, 100) || !m.IsBlacklisted(0, 3) || m.IsBlacklisted(0, 100) {
		t.Fatalf("unexpected blacklist answers")
	}
	if !m.IsPremium(4, 100) || !m.IsPremium(0, 5) || m.IsPremium(0, 100) {
		t.Fatalf("unexpected premium answers")
	}
}

func TestBlacklistedGuildCannotBecomePremium(t *testing.T) {
	m, s := newTestManager(t)
	ctx := context.Background()

	if err := m.BlacklistGuilds.Insert(ctx, 42); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	err := m.PremiumGuilds.Insert(ctx, 42)
	if !errors.Is(err, ErrPremiumBlacklisted) {
		t.Fatalf("expected ErrPremiumBlacklisted, got %v", err)
	}
	if m.PremiumGuilds.Contains(42) || m.PremiumGuilds.Len() != 0 {
		t.Fatalf("premium set must stay empty")
	}
	if !m.BlacklistGuilds.Contains(42) {
		t.Fatalf("blacklist must still contain 42")
	}
	if on, _ := s.Flags(store.Guilds, store.Premium).IsFlagged(ctx, 42); on {
		t.Fatalf("premium flag must not reach the store")
	}
}

func TestStopDrainsBeforeStoreCloses(t *testing.T) {
	m, s := newTestManager(t)
	ctx := context.Background()
	if err := m.StartPeriodicTasks(); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.Usage.Add(store.UsageEvent{Name: "ping", Type: store.CommandTypeMessage, UserID: 1})

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := m.StopPeriodicTasks(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if n, err := s.CommandStats().Count(ctx); err != nil || n != 1 {
		t.Fatalf("expected the buffered event persisted on stop, got %d %v", n, err)
	}
	if m.Stats().RecorderState != "stopped" {
		t.Fatalf("expected stopped recorder, got %s", m.Stats().RecorderState)
	}
}
