package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/small-frappuccino/aperture/pkg/log"
)

// Stores groups the durable collaborators of a Manager.
type Stores struct {
	Prefixes        KeyedStore[uint64, string]
	BlacklistGuilds FlagStore
	BlacklistUsers  FlagStore
	PremiumGuilds   FlagStore
	PremiumUsers    FlagStore
	Usage           UsageSink
}

// Options tunes a Manager.
type Options struct {
	DefaultPrefix   string
	PrefixCacheSize int
	FlushInterval   time.Duration
}

// Manager owns every cache and their lifecycle: fill before serving,
// start the flush loop, stop it before the store closes.
type Manager struct {
	Prefixes *KeyedCache[uint64, string]
	Prefix   *PrefixResolver

	BlacklistGuilds *SetCache
	BlacklistUsers  *SetCache
	PremiumGuilds   *SetCache
	PremiumUsers    *SetCache

	Usage *UsageRecorder

	filled atomic.Bool
}

// NewManager wires the caches over stores. Nothing is loaded until FillAll.
func NewManager(stores Stores, opts Options) (*Manager, error) {
	if opts.DefaultPrefix == "" {
		return nil, fmt.Errorf("default prefix is empty")
	}
	prefixes, err := NewKeyedCache[uint64, string]("prefixes", stores.Prefixes, opts.PrefixCacheSize)
	if err != nil {
		return nil, fmt.Errorf("prefix cache: %w", err)
	}

	blGuilds := NewSetCache("blacklist_guilds", stores.BlacklistGuilds)
	blUsers := NewSetCache("blacklist_users", stores.BlacklistUsers)

	return &Manager{
		Prefixes:        prefixes,
		Prefix:          NewPrefixResolver(prefixes, opts.DefaultPrefix),
		BlacklistGuilds: blGuilds,
		BlacklistUsers:  blUsers,
		PremiumGuilds:   NewPremiumSetCache("premium_guilds", stores.PremiumGuilds, blGuilds),
		PremiumUsers:    NewPremiumSetCache("premium_users", stores.PremiumUsers, blUsers),
		Usage:           NewUsageRecorder(stores.Usage, opts.FlushInterval),
	}, nil
}

// FillAll bulk-loads every cache concurrently. The store pool is shared, so
// the fills only compete for connections.
func (m *Manager) FillAll(ctx context.Context) error {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Prefixes.Fill(gctx) })
	for _, s := range m.sets() {
		g.Go(func() error {
			if err := s.Fill(gctx); err != nil {
				return fmt.Errorf("fill %s: %w", s.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	m.filled.Store(true)
	log.ApplicationLogger().Info("Caches filled",
		"prefixes", m.Prefixes.Len(),
		"blacklistedGuilds", m.BlacklistGuilds.Len(),
		"blacklistedUsers", m.BlacklistUsers.Len(),
		"premiumGuilds", m.PremiumGuilds.Len(),
		"premiumUsers", m.PremiumUsers.Len(),
		"took", time.Since(start))
	return nil
}

// Filled reports whether FillAll has completed.
func (m *Manager) Filled() bool { return m.filled.Load() }

// StartPeriodicTasks starts the usage flush loop. It fails with ErrNotFilled
// until FillAll has completed.
func (m *Manager) StartPeriodicTasks() error {
	if !m.filled.Load() {
		return ErrNotFilled
	}
	m.Usage.Start()
	return nil
}

// StopPeriodicTasks stops the flush loop and drains the buffer. It must
// return before the store is closed.
func (m *Manager) StopPeriodicTasks(ctx context.Context) error {
	return m.Usage.Stop(ctx)
}

// FlushUsage writes the pending usage buffer immediately.
func (m *Manager) FlushUsage(ctx context.Context) (int, error) {
	if !m.filled.Load() {
		return 0, ErrNotFilled
	}
	return m.Usage.Flush(ctx)
}

// IsBlacklisted reports whether the user, or the guild (when non-zero), is
// blacklisted.
func (m *Manager) IsBlacklisted(guildID, userID uint64) bool {
	if m.BlacklistUsers.Contains(userID) {
		return true
	}
	return guildID != 0 && m.BlacklistGuilds.Contains(guildID)
}

// IsPremium reports whether the user, or the guild (when non-zero), is premium.
func (m *Manager) IsPremium(guildID, userID uint64) bool {
	if m.PremiumUsers.Contains(userID) {
		return true
	}
	return guildID != 0 && m.PremiumGuilds.Contains(guildID)
}

// Stats is a point-in-time view of the caches.
type Stats struct {
	Filled            bool   `json:"filled"`
	Prefixes          int    `json:"prefixes"`
	BlacklistedGuilds int    `json:"blacklisted_guilds"`
	BlacklistedUsers  int    `json:"blacklisted_users"`
	PremiumGuilds     int    `json:"premium_guilds"`
	PremiumUsers      int    `json:"premium_users"`
	PendingUsage      int    `json:"pending_usage"`
	FlushedUsage      int64  `json:"flushed_usage"`
	DroppedUsage      int64  `json:"dropped_usage"`
	RecorderState     string `json:"recorder_state"`
}

// Stats snapshots cache sizes and recorder counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Filled:            m.filled.Load(),
		Prefixes:          m.Prefixes.Len(),
		BlacklistedGuilds: m.BlacklistGuilds.Len(),
		BlacklistedUsers:  m.BlacklistUsers.Len(),
		PremiumGuilds:     m.PremiumGuilds.Len(),
		PremiumUsers:      m.PremiumUsers.Len(),
		PendingUsage:      m.Usage.Pending(),
		FlushedUsage:      m.Usage.Flushed(),
		DroppedUsage:      m.Usage.Dropped(),
		RecorderState:     m.Usage.State().String(),
	}
}

func (m *Manager) sets() []*SetCache {
	return []*SetCache{m.BlacklistGuilds, m.BlacklistUsers, m.PremiumGuilds, m.PremiumUsers}
}
