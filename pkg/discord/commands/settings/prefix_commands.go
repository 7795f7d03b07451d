package settings

import (
	"fmt"
	"strings"

	"github.com/small-frappuccino/aperture/pkg/config"
	"github.com/small-frappuccino/aperture/pkg/discord/commands/core"
)

// RegisterCommands registers the per-guild settings commands.
func RegisterCommands(router *core.CommandRouter) {
	router.RegisterCommand(NewPrefixCommand())
}

// NewPrefixCommand builds `prefix`, `prefix set <p>` and `prefix reset`.
func NewPrefixCommand() *core.GroupCommand {
	return core.NewGroupCommand("prefix", "Show or change this server's prefix", true).
		AddSubCommand(core.NewSimpleCommand("set", "Change the prefix", "prefix set <prefix>",
			handleSet, true, core.PermissionManageGuild)).
		AddSubCommand(core.NewSimpleCommand("reset", "Restore the default prefix", "prefix reset",
			handleReset, true, core.PermissionManageGuild)).
		WithFallback(handleShow)
}

func handleShow(ctx *core.Context) error {
	prefix, err := ctx.Caches.Prefix.Resolve(ctx.Ctx, ctx.GuildSnowflake())
	if err != nil {
		return err
	}
	return ctx.ReplyEmbed(core.InfoEmbed("", fmt.Sprintf("The prefix here is `%s`.", prefix)))
}

func handleSet(ctx *core.Context) error {
	if len(ctx.Args) == 0 {
		return core.NewCommandError("Usage: `" + ctx.Prefix + "prefix set <prefix>`")
	}
	prefix := strings.Join(ctx.Args, " ")
	if err := config.ValidatePrefix(prefix); err != nil {
		return core.NewCommandError("Invalid prefix: " + err.Error())
	}

	if err := ctx.Caches.Prefix.Set(ctx.Ctx, ctx.GuildSnowflake(), prefix); err != nil {
		return err
	}
	ctx.Logger.Info("Prefix changed", "prefix", prefix)
	return ctx.ReplyEmbed(core.SuccessEmbed(fmt.Sprintf("Prefix set to `%s`.", prefix)))
}

func handleReset(ctx *core.Context) error {
	if err := ctx.Caches.Prefix.Reset(ctx.Ctx, ctx.GuildSnowflake()); err != nil {
		return err
	}
	def := ctx.Caches.Prefix.Default()
	ctx.Logger.Info("Prefix reset", "prefix", def)
	return ctx.ReplyEmbed(core.SuccessEmbed(fmt.Sprintf("Prefix reset to `%s`.", def)))
}
