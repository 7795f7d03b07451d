package commands

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/aperture/pkg/cache"
	"github.com/small-frappuccino/aperture/pkg/config"
	"github.com/small-frappuccino/aperture/pkg/discord/commands/admin"
	"github.com/small-frappuccino/aperture/pkg/discord/commands/core"
	"github.com/small-frappuccino/aperture/pkg/discord/commands/general"
	"github.com/small-frappuccino/aperture/pkg/discord/commands/settings"
	apperrors "github.com/small-frappuccino/aperture/pkg/errors"
	"github.com/small-frappuccino/aperture/pkg/log"
)

// CommandHandler is the main handler that coordinates all bot commands
type CommandHandler struct {
	session *discordgo.Session
	caches  *cache.Manager
	usage   admin.UsageStats
	cfg     config.Config
	errs    *apperrors.ErrorHandler
	router  *core.CommandRouter
	remove  func()
}

// NewCommandHandler creates a new CommandHandler instance
func NewCommandHandler(
	session *discordgo.Session,
	caches *cache.Manager,
	usage admin.UsageStats,
	cfg config.Config,
	errs *apperrors.ErrorHandler,
) *CommandHandler {
	return &CommandHandler{
		session: session,
		caches:  caches,
		usage:   usage,
		cfg:     cfg,
		errs:    errs,
	}
}

// SetupCommands builds the router, registers every command and subscribes
// it to message events.
func (ch *CommandHandler) SetupCommands() error {
	log.ApplicationLogger().Info("Setting up bot commands...")

	router, err := core.NewCommandRouter(core.RouterOptions{
		Caches:       ch.caches,
		Responder:    core.NewSessionResponder(ch.session),
		Permissions:  core.SessionPermissions(ch.session),
		Cooldowns:    core.NewCooldowns(ch.cfg.Cooldown, ch.cfg.PremiumCooldown, 0),
		IsOwner:      ch.cfg.IsOwner,
		ErrorHandler: ch.errs,
	})
	if err != nil {
		return fmt.Errorf("failed to create command router: %w", err)
	}
	ch.router = router

	general.RegisterCommands(router)
	settings.RegisterCommands(router)
	admin.NewAdminCommands(ch.caches, ch.usage).RegisterCommands(router)

	ch.remove = ch.session.AddHandler(router.HandleMessage)

	log.ApplicationLogger().Info("Bot commands setup completed successfully",
		"commands", len(router.GetRegistry().GetAllCommands()))
	return nil
}

// Shutdown detaches the message handler.
func (ch *CommandHandler) Shutdown() error {
	log.ApplicationLogger().Info("Shutting down command handler...")
	if ch.remove != nil {
		ch.remove()
		ch.remove = nil
	}
	return nil
}

// GetRouter returns the command router (for tests or extensions)
func (ch *CommandHandler) GetRouter() *core.CommandRouter {
	return ch.router
}
