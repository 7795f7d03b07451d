package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/aperture/pkg/cache"
	"github.com/small-frappuccino/aperture/pkg/discord/commands/core"
	"github.com/small-frappuccino/aperture/pkg/store"
)

const topCommandsLimit = 10

// UsageStats reads aggregated command usage.
type UsageStats interface {
	TopCommands(ctx context.Context, guildID uint64, limit int) ([]store.CommandCount, error)
}

// AdminCommands provides owner-only commands for the blacklist, premium
// membership and usage statistics.
type AdminCommands struct {
	caches *cache.Manager
	usage  UsageStats
}

// NewAdminCommands creates a new admin commands handler
func NewAdminCommands(caches *cache.Manager, usage UsageStats) *AdminCommands {
	return &AdminCommands{caches: caches, usage: usage}
}

// RegisterCommands registers all admin commands with the router
func (ac *AdminCommands) RegisterCommands(router *core.CommandRouter) {
	router.RegisterCommand(ac.flagGroup("blacklist", "Manage the blacklist",
		ac.caches.BlacklistGuilds, ac.caches.BlacklistUsers).WithAliases("bl"))
	router.RegisterCommand(ac.flagGroup("premium", "Manage premium guilds and users",
		ac.caches.PremiumGuilds, ac.caches.PremiumUsers))
	router.RegisterCommand(&StatsCommand{adminCommands: ac})
}

func (ac *AdminCommands) flagGroup(name, description string, guilds, users *cache.SetCache) *core.GroupCommand {
	targets := flagTargets{guilds: guilds, users: users}
	return core.NewGroupCommand(name, description, false).
		AddSubCommand(&FlagCommand{group: name, add: true, targets: targets}).
		AddSubCommand(&FlagCommand{group: name, add: false, targets: targets}).
		AddSubCommand(&FlagListCommand{group: name, targets: targets})
}

type flagTargets struct {
	guilds *cache.SetCache
	users  *cache.SetCache
}

func (t flagTargets) pick(kind string) (*cache.SetCache, string, bool) {
	switch strings.ToLower(kind) {
	case "guild", "guilds", "server":
		return t.guilds, "guild", true
	case "user", "users", "member":
		return t.users, "user", true
	default:
		return nil, "", false
	}
}

// FlagCommand adds or removes an id from a guild or user set.
type FlagCommand struct {
	group   string
	add     bool
	targets flagTargets
}

func (cmd *FlagCommand) Name() string {
	if cmd.add {
		return "add"
	}
	return "remove"
}

func (cmd *FlagCommand) Description() string {
	if cmd.add {
		return "Add a guild or user to the " + cmd.group
	}
	return "Remove a guild or user from the " + cmd.group
}

func (cmd *FlagCommand) Usage() string {
	return cmd.group + " " + cmd.Name() + " <guild|user> <id>"
}

func (cmd *FlagCommand) RequiresGuild() bool              { return false }
func (cmd *FlagCommand) Permission() core.PermissionLevel { return core.PermissionOwner }

func (cmd *FlagCommand) Handle(ctx *core.Context) error {
	if len(ctx.Args) != 2 {
		return core.UsageError(cmd, ctx.Prefix)
	}
	set, kind, ok := cmd.targets.pick(ctx.Args[0])
	if !ok {
		return core.UsageError(cmd, ctx.Prefix)
	}
	id, err := core.ParseSnowflake(ctx.Args[1])
	if err != nil {
		return err
	}

	if cmd.add {
		if set.Contains(id) {
			return ctx.ReplyEmbed(core.InfoEmbed("", fmt.Sprintf("%s `%d` is already in the %s.", kind, id, cmd.group)))
		}
		if err := set.Insert(ctx.Ctx, id); err != nil {
			return err
		}
		ctx.Logger.Info("Flag added", "set", set.Name(), "id", id)
		return ctx.ReplyEmbed(core.SuccessEmbed(fmt.Sprintf("Added %s `%d` to the %s.", kind, id, cmd.group)))
	}

	if !set.Contains(id) {
		return ctx.ReplyEmbed(core.InfoEmbed("", fmt.Sprintf("%s `%d` is not in the %s.", kind, id, cmd.group)))
	}
	if err := set.Remove(ctx.Ctx, id); err != nil {
		return err
	}
	ctx.Logger.Info("Flag removed", "set", set.Name(), "id", id)
	return ctx.ReplyEmbed(core.SuccessEmbed(fmt.Sprintf("Removed %s `%d` from the %s.", kind, id, cmd.group)))
}

// FlagListCommand lists the members of a guild or user set.
type FlagListCommand struct {
	group   string
	targets flagTargets
}

func (cmd *FlagListCommand) Name() string                     { return "list" }
func (cmd *FlagListCommand) Description() string              { return "List the " + cmd.group }
func (cmd *FlagListCommand) Usage() string                    { return cmd.group + " list <guild|user>" }
func (cmd *FlagListCommand) RequiresGuild() bool              { return false }
func (cmd *FlagListCommand) Permission() core.PermissionLevel { return core.PermissionOwner }

func (cmd *FlagListCommand) Handle(ctx *core.Context) error {
	if len(ctx.Args) != 1 {
		return core.UsageError(cmd, ctx.Prefix)
	}
	set, kind, ok := cmd.targets.pick(ctx.Args[0])
	if !ok {
		return core.UsageError(cmd, ctx.Prefix)
	}
	ids := set.Snapshot()
	if len(ids) == 0 {
		return ctx.ReplyEmbed(core.InfoEmbed(cmd.group, fmt.Sprintf("No %ss.", kind)))
	}

	var b strings.Builder
	for i, id := range ids {
		if i == 25 {
			fmt.Fprintf(&b, "... and %d more", len(ids)-i)
			break
		}
		fmt.Fprintf(&b, "`%d`\n", id)
	}
	return ctx.ReplyEmbed(core.InfoEmbed(fmt.Sprintf("%s (%d %ss)", cmd.group, len(ids), kind), b.String()))
}

// StatsCommand shows cache sizes and the most used commands.
type StatsCommand struct {
	adminCommands *AdminCommands
}

func (cmd *StatsCommand) Name() string                     { return "stats" }
func (cmd *StatsCommand) Aliases() []string                { return nil }
func (cmd *StatsCommand) Description() string              { return "Show cache and command usage statistics" }
func (cmd *StatsCommand) Usage() string                    { return "stats [guild id]" }
func (cmd *StatsCommand) RequiresGuild() bool              { return false }
func (cmd *StatsCommand) Permission() core.PermissionLevel { return core.PermissionOwner }

func (cmd *StatsCommand) Handle(ctx *core.Context) error {
	var guildID uint64
	if len(ctx.Args) > 0 {
		id, err := core.ParseSnowflake(ctx.Args[0])
		if err != nil {
			return err
		}
		guildID = id
	}

	stats := cmd.adminCommands.caches.Stats()
	embed := core.InfoEmbed("Statistics", "")
	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Cached prefixes", Value: fmt.Sprint(stats.Prefixes), Inline: true},
		{Name: "Blacklisted", Value: fmt.Sprintf("%d guilds, %d users", stats.BlacklistedGuilds, stats.BlacklistedUsers), Inline: true},
		{Name: "Premium", Value: fmt.Sprintf("%d guilds, %d users", stats.PremiumGuilds, stats.PremiumUsers), Inline: true},
		{Name: "Usage buffer", Value: fmt.Sprintf("%d pending, %d flushed, %d dropped (%s)",
			stats.PendingUsage, stats.FlushedUsage, stats.DroppedUsage, stats.RecorderState)},
	}

	if cmd.adminCommands.usage != nil {
		top, err := cmd.adminCommands.usage.TopCommands(ctx.Ctx, guildID, topCommandsLimit)
		if err != nil {
			return err
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  topCommandsTitle(guildID),
			Value: formatTopCommands(top),
		})
	}
	return ctx.ReplyEmbed(embed)
}

func topCommandsTitle(guildID uint64) string {
	if guildID == 0 {
		return "Top commands"
	}
	return fmt.Sprintf("Top commands in %d", guildID)
}

func formatTopCommands(top []store.CommandCount) string {
	if len(top) == 0 {
		return "No commands recorded yet."
	}
	var b strings.Builder
	for i, c := range top {
		fmt.Fprintf(&b, "%d. `%s` %d uses by %d users\n", i+1, c.Name, c.Uses, c.Users)
	}
	return b.String()
}
