package general

import (
	"fmt"
	"strings"
	"time"

	"github.com/small-frappuccino/aperture/pkg/discord/commands/core"
)

// RegisterCommands registers ping and help.
func RegisterCommands(router *core.CommandRouter) {
	router.RegisterCommand(core.NewSimpleCommand("ping", "Check the bot's latency", "ping",
		handlePing, false, core.PermissionNone).WithAliases("latency"))
	router.RegisterCommand(core.NewSimpleCommand("help", "List available commands", "help",
		func(ctx *core.Context) error { return handleHelp(ctx, router.GetRegistry()) },
		false, core.PermissionNone).WithAliases("commands"))
}

func handlePing(ctx *core.Context) error {
	msg := "Pong!"
	if ctx.Session != nil {
		if hb := ctx.Session.HeartbeatLatency(); hb > 0 {
			msg += fmt.Sprintf(" Gateway latency: %dms.", hb.Round(time.Millisecond).Milliseconds())
		}
	}
	return ctx.Reply(msg)
}

func handleHelp(ctx *core.Context, registry *core.CommandRegistry) error {
	var b strings.Builder
	for _, cmd := range registry.GetAllCommands() {
		if ok, _ := ctx.Allowed(cmd.Permission()); !ok && cmd.Permission() == core.PermissionOwner {
			continue
		}
		fmt.Fprintf(&b, "`%s%s` %s\n", ctx.Prefix, cmd.Usage(), cmd.Description())
	}
	return ctx.ReplyEmbed(core.InfoEmbed("Commands", b.String()))
}
