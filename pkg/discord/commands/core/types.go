package core

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/aperture/pkg/cache"
)

// PermissionLevel is the minimum authority a command requires.
type PermissionLevel int

const (
	PermissionNone PermissionLevel = iota
	// PermissionManageGuild requires the Manage Guild permission in the guild.
	PermissionManageGuild
	// PermissionOwner is reserved for bot owners.
	PermissionOwner
)

func (p PermissionLevel) String() string {
	switch p {
	case PermissionManageGuild:
		return "manage_guild"
	case PermissionOwner:
		return "owner"
	default:
		return "none"
	}
}

// SubCommand is one verb inside a GroupCommand.
type SubCommand interface {
	Name() string
	Description() string
	Usage() string
	RequiresGuild() bool
	Permission() PermissionLevel
	Handle(ctx *Context) error
}

// Command is a message command reachable through the guild prefix.
type Command interface {
	SubCommand
	Aliases() []string
}

// Context carries everything a handler needs for one invocation.
type Context struct {
	Ctx     context.Context
	Session *discordgo.Session
	Message *discordgo.Message
	Caches  *cache.Manager
	Logger  *slog.Logger

	GuildID   string
	ChannelID string
	UserID    string
	// Prefix is the prefix as written by the user (or the bot mention).
	Prefix string
	// Invoked is the command name as typed, lower-cased.
	Invoked string
	Args    []string

	IsOwner   bool
	IsPremium bool

	responder  Responder
	authorizer func(PermissionLevel) (bool, error)
}

// Reply answers the invoking message.
func (c *Context) Reply(content string) error {
	return c.responder.Reply(c.Ctx, c.Message, content)
}

// ReplyEmbed answers the invoking message with an embed.
func (c *Context) ReplyEmbed(embed *discordgo.MessageEmbed) error {
	return c.responder.ReplyEmbed(c.Ctx, c.Message, embed)
}

// Allowed reports whether the invoking user holds level.
func (c *Context) Allowed(level PermissionLevel) (bool, error) {
	if level == PermissionNone || c.IsOwner {
		return true, nil
	}
	if c.authorizer == nil {
		return false, nil
	}
	return c.authorizer(level)
}

// GuildSnowflake returns the guild id as a number, zero in direct messages.
func (c *Context) GuildSnowflake() uint64 {
	id, _ := strconv.ParseUint(c.GuildID, 10, 64)
	return id
}

// UserSnowflake returns the author id as a number.
func (c *Context) UserSnowflake() uint64 {
	id, _ := strconv.ParseUint(c.UserID, 10, 64)
	return id
}

// CommandError is a failure whose message is safe to show to the user.
type CommandError struct {
	Message string
	Code    string
}

func (e *CommandError) Error() string {
	return e.Message
}

// NewCommandError builds a user-facing command error.
func NewCommandError(message string) *CommandError {
	return &CommandError{Message: message}
}

// UsageError reports a malformed invocation, pointing at the usage line.
func UsageError(cmd SubCommand, prefix string) *CommandError {
	return &CommandError{
		Message: "Usage: `" + prefix + cmd.Usage() + "`",
		Code:    "usage",
	}
}

// ParseSnowflake parses a Discord id, accepting mention forms.
func ParseSnowflake(s string) (uint64, error) {
	s = trimMention(s)
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, NewCommandError("`" + s + "` is not a valid id")
	}
	return id, nil
}

func trimMention(s string) string {
	if len(s) > 3 && s[0] == '<' && s[len(s)-1] == '>' {
		s = s[1 : len(s)-1]
		for len(s) > 0 && (s[0] == '@' || s[0] == '!' || s[0] == '#' || s[0] == '&') {
			s = s[1:]
		}
	}
	return s
}
