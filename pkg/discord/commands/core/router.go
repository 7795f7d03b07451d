package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/aperture/pkg/cache"
	"github.com/small-frappuccino/aperture/pkg/discord/perf"
	apperrors "github.com/small-frappuccino/aperture/pkg/errors"
	"github.com/small-frappuccino/aperture/pkg/log"
	"github.com/small-frappuccino/aperture/pkg/store"
	"github.com/small-frappuccino/aperture/pkg/telemetry"
	"github.com/small-frappuccino/aperture/pkg/util"
)

const commandTimeout = 30 * time.Second

// RouterOptions wires a CommandRouter.
type RouterOptions struct {
	Caches      *cache.Manager
	Responder   Responder
	Permissions PermissionFunc
	Cooldowns   *Cooldowns
	// IsOwner reports whether a user id belongs to a bot owner.
	IsOwner      func(uint64) bool
	ErrorHandler *apperrors.ErrorHandler
}

// CommandRouter turns message-created events into command invocations.
type CommandRouter struct {
	registry  *CommandRegistry
	caches    *cache.Manager
	responder Responder
	perms     PermissionFunc
	cooldowns *Cooldowns
	isOwner   func(uint64) bool
	errs      *apperrors.ErrorHandler

	selfID atomic.Value // string
}

// NewCommandRouter creates a router. Caches and Responder are required.
func NewCommandRouter(opts RouterOptions) (*CommandRouter, error) {
	if opts.Caches == nil || opts.Responder == nil {
		return nil, errors.New("command router needs caches and a responder")
	}
	if opts.IsOwner == nil {
		opts.IsOwner = func(uint64) bool { return false }
	}
	if opts.ErrorHandler == nil {
		opts.ErrorHandler = apperrors.NewErrorHandler()
	}
	cr := &CommandRouter{
		registry:  NewCommandRegistry(),
		caches:    opts.Caches,
		responder: opts.Responder,
		perms:     opts.Permissions,
		cooldowns: opts.Cooldowns,
		isOwner:   opts.IsOwner,
		errs:      opts.ErrorHandler,
	}
	cr.selfID.Store("")
	return cr, nil
}

// RegisterCommand registers a command
func (cr *CommandRouter) RegisterCommand(cmd Command) {
	cr.registry.Register(cmd)
}

// GetRegistry returns the command registry
func (cr *CommandRouter) GetRegistry() *CommandRegistry {
	return cr.registry
}

// SetSelfID records the bot's user id so mentions work as a prefix.
func (cr *CommandRouter) SetSelfID(id string) {
	cr.selfID.Store(id)
}

// HandleMessage is a discordgo MessageCreate handler.
func (cr *CommandRouter) HandleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil {
		return
	}
	if cr.selfID.Load().(string) == "" && s != nil && s.State != nil && s.State.User != nil {
		cr.selfID.Store(s.State.User.ID)
	}
	defer perf.Track("message_create", "channel_id", m.ChannelID)()
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	cr.Dispatch(ctx, s, m.Message)
}

// Dispatch parses msg and runs the command it names, if any.
func (cr *CommandRouter) Dispatch(ctx context.Context, s *discordgo.Session, msg *discordgo.Message) {
	if msg.Author == nil || msg.Author.Bot || msg.Content == "" {
		return
	}
	userID, err := strconv.ParseUint(msg.Author.ID, 10, 64)
	if err != nil {
		return
	}
	var guildID uint64
	if msg.GuildID != "" {
		if guildID, err = strconv.ParseUint(msg.GuildID, 10, 64); err != nil {
			return
		}
	}

	owner := cr.isOwner(userID)
	if !owner && cr.caches.IsBlacklisted(guildID, userID) {
		telemetry.CommandRejected("blacklisted")
		return
	}

	prefix, err := cr.caches.Prefix.Resolve(ctx, guildID)
	if err != nil {
		// An uncached guild cannot be matched against the default: its real
		// prefix may differ.
		serviceErr := apperrors.NewServiceError(
			apperrors.Categorize(err),
			apperrors.SeverityHigh,
			"command_router",
			"resolve_prefix",
			"Prefix resolution failed",
			err,
		)
		serviceErr.Context["guildID"] = msg.GuildID
		serviceErr.Context["userID"] = msg.Author.ID
		_ = cr.errs.Handle(ctx, serviceErr)
		telemetry.CommandRejected("prefix_unavailable")
		return
	}

	candidates := []string{prefix}
	if self := cr.selfID.Load().(string); self != "" {
		candidates = append(candidates, "<@"+self+">", "<@!"+self+">")
	}
	rest, matched, ok := util.TrimAnyPrefixFold(msg.Content, candidates...)
	if !ok {
		return
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return
	}

	name := strings.ToLower(fields[0])
	cmd, ok := cr.registry.GetCommand(name)
	if !ok {
		telemetry.CommandRejected("unknown")
		return
	}

	ctx, corr := telemetry.NewCorrelation(ctx)
	logger := telemetry.LoggerWithCorr(ctx, log.ApplicationLogger()).With(
		"command", cmd.Name(), "guildID", msg.GuildID, "userID", msg.Author.ID)

	cctx := &Context{
		Ctx:       ctx,
		Session:   s,
		Message:   msg,
		Caches:    cr.caches,
		Logger:    logger,
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		UserID:    msg.Author.ID,
		Prefix:    matched,
		Invoked:   name,
		Args:      fields[1:],
		IsOwner:   owner,
		IsPremium: cr.caches.IsPremium(guildID, userID),
		responder: cr.responder,
	}
	cctx.authorizer = func(level PermissionLevel) (bool, error) {
		if level == PermissionOwner || cr.perms == nil {
			return false, nil
		}
		return cr.perms(cctx.GuildID, cctx.ChannelID, cctx.UserID, level)
	}
	if matched != prefix {
		// Mentions show up in usage hints as the configured prefix.
		cctx.Prefix = prefix
	}

	if cmd.RequiresGuild() && guildID == 0 {
		telemetry.CommandRejected("guild_only")
		cr.reply(cctx, "This command can only be used in a server")
		return
	}
	allowed, err := cctx.Allowed(cmd.Permission())
	if err != nil {
		logger.Warn("Permission check failed", "err", err)
	}
	if !allowed {
		telemetry.CommandRejected("permission")
		cr.reply(cctx, "You do not have permission to use this command")
		return
	}
	if !owner && cr.cooldowns != nil {
		if wait, ok := cr.cooldowns.Allow(cmd.Name(), userID, cctx.IsPremium); !ok {
			telemetry.CommandRejected("cooldown")
			cr.reply(cctx, fmt.Sprintf("Slow down! Try again in %.0fs.", math.Ceil(wait.Seconds())))
			return
		}
	}

	cr.caches.Usage.Add(store.UsageEvent{
		Name:    cmd.Name(),
		Type:    store.CommandTypeMessage,
		UserID:  userID,
		GuildID: guildID,
		At:      time.Now(),
	})
	telemetry.CommandInvoked(cmd.Name())

	logger.Debug("Executing command", "corr", corr, "args", len(cctx.Args))
	if err := cmd.Handle(cctx); err != nil {
		cr.handleError(cctx, err)
	}
}

func (cr *CommandRouter) handleError(ctx *Context, err error) {
	var cmdErr *CommandError
	var premErr *cache.PremiumBlacklistedError
	switch {
	case errors.As(err, &cmdErr):
		cr.reply(ctx, cmdErr.Message)
	case errors.As(err, &premErr):
		cr.reply(ctx, premErr.Error())
	default:
		serviceErr := apperrors.NewServiceError(
			apperrors.Categorize(err),
			apperrors.SeverityMedium,
			"command_router",
			ctx.Invoked,
			"Command execution failed",
			err,
		)
		serviceErr.Context["corr"] = telemetry.GetCorrelation(ctx.Ctx)
		serviceErr.Context["guildID"] = ctx.GuildID
		serviceErr.Context["userID"] = ctx.UserID
		_ = cr.errs.Handle(ctx.Ctx, serviceErr)
		cr.reply(ctx, "An error occurred while executing the command")
	}
}

func (cr *CommandRouter) reply(ctx *Context, content string) {
	if err := ctx.Reply(content); err != nil {
		_ = cr.errs.HandleDiscordError(ctx.Ctx, "reply", "command_router", err)
	}
}
