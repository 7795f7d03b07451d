// Package events connects gateway events to the cache subsystem.
package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/aperture/pkg/cache"
	"github.com/small-frappuccino/aperture/pkg/discord/perf"
	"github.com/small-frappuccino/aperture/pkg/log"
	"github.com/small-frappuccino/aperture/pkg/task"
)

// Task types dispatched for guild lifecycle events.
const (
	TaskGuildJoin  = "guild.join"
	TaskGuildLeave = "guild.leave"
)

// joinDedupeTTL covers the GuildCreate burst of a reconnect: a guild whose
// join task is still queued or just ran is not queued again.
const joinDedupeTTL = 30 * time.Second

func joinKey(guildID string) string { return TaskGuildJoin + ":" + guildID }

// GuildLifecycle keeps prefixes in step with the guilds the bot is in. Work
// runs on the task router grouped by guild id, so a join and a leave for the
// same guild are applied in order.
type GuildLifecycle struct {
	caches *cache.Manager
	tasks  *task.Router
}

// NewGuildLifecycle registers the lifecycle task handlers on tasks.
func NewGuildLifecycle(caches *cache.Manager, tasks *task.Router) *GuildLifecycle {
	g := &GuildLifecycle{caches: caches, tasks: tasks}
	tasks.RegisterHandler(TaskGuildJoin, g.handleJoin)
	tasks.RegisterHandler(TaskGuildLeave, g.handleLeave)
	return g
}

// Attach subscribes the listeners and returns a function removing them.
func (g *GuildLifecycle) Attach(s *discordgo.Session) func() {
	removers := []func(){
		s.AddHandler(g.OnGuildCreate),
		s.AddHandler(g.OnGuildDelete),
	}
	return func() {
		for _, remove := range removers {
			remove()
		}
	}
}

// OnGuildCreate makes sure the guild has a prefix row. It fires for every
// guild on connect, so guilds already cached are skipped.
func (g *GuildLifecycle) OnGuildCreate(_ *discordgo.Session, e *discordgo.GuildCreate) {
	if e == nil || e.Guild == nil {
		return
	}
	defer perf.Track("guild_create", "guild_id", e.ID)()
	id, err := strconv.ParseUint(e.ID, 10, 64)
	if err != nil {
		return
	}
	if _, ok := g.caches.Prefixes.Cached(id); ok {
		return
	}
	g.dispatch(task.Task{
		Type:      TaskGuildJoin,
		Payload:   id,
		Key:       e.ID,
		DedupeKey: joinKey(e.ID),
		DedupeTTL: joinDedupeTTL,
	})
}

// OnGuildDelete forgets the prefix of a guild the bot left. Deletes caused
// by outages carry Unavailable and are ignored.
func (g *GuildLifecycle) OnGuildDelete(_ *discordgo.Session, e *discordgo.GuildDelete) {
	if e == nil || e.Guild == nil || e.Unavailable {
		return
	}
	defer perf.Track("guild_delete", "guild_id", e.ID)()
	id, err := strconv.ParseUint(e.ID, 10, 64)
	if err != nil {
		return
	}
	// A rejoin after this leave must not be taken for a duplicate.
	g.tasks.Forget(joinKey(e.ID))
	g.dispatch(task.Task{Type: TaskGuildLeave, Payload: id, Key: e.ID})
}

func (g *GuildLifecycle) dispatch(t task.Task) {
	err := g.tasks.Dispatch(context.Background(), t)
	switch {
	case err == nil:
	case errors.Is(err, task.ErrDuplicateTask):
		log.DiscordLogger().Debug("Guild task already queued", "type", t.Type, "guildID", t.Key)
	default:
		log.DiscordLogger().Warn("Failed to dispatch guild task", "type", t.Type, "guildID", t.Key, "err", err)
	}
}

func (g *GuildLifecycle) handleJoin(ctx context.Context, payload any) error {
	guildID, ok := payload.(uint64)
	if !ok {
		return fmt.Errorf("guild join: unexpected payload %T", payload)
	}
	prefix, err := g.caches.Prefix.EnsureDefault(ctx, guildID)
	if err != nil {
		return err
	}
	log.DiscordLogger().Info("Guild joined", "guildID", guildID, "prefix", prefix)
	return nil
}

func (g *GuildLifecycle) handleLeave(ctx context.Context, payload any) error {
	guildID, ok := payload.(uint64)
	if !ok {
		return fmt.Errorf("guild leave: unexpected payload %T", payload)
	}
	if err := g.caches.Prefix.Forget(ctx, guildID); err != nil {
		return err
	}
	log.DiscordLogger().Info("Guild left", "guildID", guildID)
	return nil
}
