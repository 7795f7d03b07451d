package cache

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/small-frappuccino/aperture/pkg/log"
	"github.com/small-frappuccino/aperture/pkg/telemetry"
)

// Resolution tiers, as reported to metrics.
const (
	TierMemory  = "memory"
	TierStore   = "store"
	TierDefault = "default"
	TierDirect  = "direct"
)

// resolveTimeout bounds a shared store lookup. It runs detached from the
// caller that started it, since other callers may be waiting on the result.
const resolveTimeout = 10 * time.Second

// PrefixResolver finds the command prefix for a guild: memory, then the
// store, then an upserted default. The default insert keeps any row that
// appeared concurrently, so every caller for a guild sees the same prefix.
type PrefixResolver struct {
	cache         *KeyedCache[uint64, string]
	defaultPrefix string
	group         singleflight.Group
}

// NewPrefixResolver resolves through cache, falling back to defaultPrefix.
func NewPrefixResolver(cache *KeyedCache[uint64, string], defaultPrefix string) *PrefixResolver {
	return &PrefixResolver{cache: cache, defaultPrefix: defaultPrefix}
}

// Default returns the configured default prefix.
func (r *PrefixResolver) Default() string { return r.defaultPrefix }

// Resolve returns the prefix for guildID. A zero guildID (direct message)
// resolves to the default without touching the cache.
func (r *PrefixResolver) Resolve(ctx context.Context, guildID uint64) (string, error) {
	if guildID == 0 {
		telemetry.PrefixResolved(TierDirect)
		return r.defaultPrefix, nil
	}
	if p, ok := r.cache.Cached(guildID); ok {
		telemetry.CacheHit(r.cache.Name())
		telemetry.PrefixResolved(TierMemory)
		return p, nil
	}

	ch := r.group.DoChan(strconv.FormatUint(guildID, 10), func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()

		p, ok, err := r.cache.GetOrFetch(ctx, guildID)
		if err != nil {
			return "", err
		}
		if ok {
			telemetry.PrefixResolved(TierStore)
			return p, nil
		}

		// No row at all: the guild was joined while we were offline.
		p, err = r.cache.InsertIfAbsent(ctx, guildID, r.defaultPrefix)
		if err != nil {
			return "", err
		}
		telemetry.PrefixResolved(TierDefault)
		log.DatabaseLogger().Info("Inserted default prefix for unknown guild", "guildID", guildID, "prefix", p)
		return p, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Set stores a new prefix for a guild, replacing the current one.
func (r *PrefixResolver) Set(ctx context.Context, guildID uint64, prefix string) error {
	return r.cache.Insert(ctx, guildID, prefix)
}

// Reset puts the guild back on the default prefix.
func (r *PrefixResolver) Reset(ctx context.Context, guildID uint64) error {
	return r.cache.Insert(ctx, guildID, r.defaultPrefix)
}

// EnsureDefault gives a newly joined guild the default prefix unless it
// already has one, and returns the prefix in effect.
func (r *PrefixResolver) EnsureDefault(ctx context.Context, guildID uint64) (string, error) {
	return r.cache.InsertIfAbsent(ctx, guildID, r.defaultPrefix)
}

// Forget removes the prefix of a guild the bot left.
func (r *PrefixResolver) Forget(ctx context.Context, guildID uint64) error {
	return r.cache.Remove(ctx, guildID)
}
