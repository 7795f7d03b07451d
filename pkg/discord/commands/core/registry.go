package core

import (
	"sort"
	"strings"
	"sync"
)

// CommandRegistry maps lower-cased names and aliases to commands.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]Command
	lookup   map[string]Command
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[string]Command),
		lookup:   make(map[string]Command),
	}
}

// Register adds cmd. A later registration with the same name or alias wins.
func (r *CommandRegistry) Register(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := strings.ToLower(cmd.Name())
	r.commands[name] = cmd
	r.lookup[name] = cmd
	for _, alias := range cmd.Aliases() {
		r.lookup[strings.ToLower(alias)] = cmd
	}
}

// GetCommand finds a command by name or alias, ignoring case.
func (r *CommandRegistry) GetCommand(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.lookup[strings.ToLower(name)]
	return cmd, ok
}

// GetAllCommands returns the registered commands sorted by name.
func (r *CommandRegistry) GetAllCommands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// GroupCommand dispatches on its first argument to a subcommand. With no
// arguments it runs the fallback, if any.
type GroupCommand struct {
	name        string
	description string
	aliases     []string
	guildOnly   bool
	subcommands map[string]SubCommand
	order       []string
	fallback    func(ctx *Context) error
}

// NewGroupCommand creates a new group command.
func NewGroupCommand(name, description string, guildOnly bool) *GroupCommand {
	return &GroupCommand{
		name:        name,
		description: description,
		guildOnly:   guildOnly,
		subcommands: make(map[string]SubCommand),
	}
}

// AddSubCommand registers a subcommand under the group.
func (gc *GroupCommand) AddSubCommand(sub SubCommand) *GroupCommand {
	key := strings.ToLower(sub.Name())
	if _, exists := gc.subcommands[key]; !exists {
		gc.order = append(gc.order, key)
	}
	gc.subcommands[key] = sub
	return gc
}

// WithFallback sets the handler used when no subcommand is given.
func (gc *GroupCommand) WithFallback(fn func(ctx *Context) error) *GroupCommand {
	gc.fallback = fn
	return gc
}

// WithAliases sets alternative names for the group.
func (gc *GroupCommand) WithAliases(aliases ...string) *GroupCommand {
	gc.aliases = aliases
	return gc
}

func (gc *GroupCommand) Name() string                { return gc.name }
func (gc *GroupCommand) Description() string         { return gc.description }
func (gc *GroupCommand) Aliases() []string           { return gc.aliases }
func (gc *GroupCommand) RequiresGuild() bool         { return gc.guildOnly }
func (gc *GroupCommand) Permission() PermissionLevel { return PermissionNone }

// Usage lists the subcommands.
func (gc *GroupCommand) Usage() string {
	return gc.name + " <" + strings.Join(gc.order, "|") + ">"
}

// Handle routes to the subcommand named by the first argument.
func (gc *GroupCommand) Handle(ctx *Context) error {
	if len(ctx.Args) == 0 {
		if gc.fallback != nil {
			return gc.fallback(ctx)
		}
		return UsageError(gc, ctx.Prefix)
	}

	sub, ok := gc.subcommands[strings.ToLower(ctx.Args[0])]
	if !ok {
		return UsageError(gc, ctx.Prefix)
	}
	if sub.RequiresGuild() && ctx.GuildID == "" {
		return NewCommandError("This subcommand can only be used in a server")
	}
	allowed, err := ctx.Allowed(sub.Permission())
	if err != nil {
		return err
	}
	if !allowed {
		return NewCommandError("You don't have permission to use this subcommand")
	}

	ctx.Args = ctx.Args[1:]
	return sub.Handle(ctx)
}

// SimpleCommand implements Command from a handler func.
type SimpleCommand struct {
	name        string
	description string
	usage       string
	aliases     []string
	handler     func(ctx *Context) error
	guildOnly   bool
	permission  PermissionLevel
}

// NewSimpleCommand creates a simple command.
func NewSimpleCommand(
	name, description, usage string,
	handler func(ctx *Context) error,
	guildOnly bool,
	permission PermissionLevel,
) *SimpleCommand {
	if usage == "" {
		usage = name
	}
	return &SimpleCommand{
		name:        name,
		description: description,
		usage:       usage,
		handler:     handler,
		guildOnly:   guildOnly,
		permission:  permission,
	}
}

// WithAliases sets alternative names for the command.
func (sc *SimpleCommand) WithAliases(aliases ...string) *SimpleCommand {
	sc.aliases = aliases
	return sc
}

func (sc *SimpleCommand) Name() string                { return sc.name }
func (sc *SimpleCommand) Description() string         { return sc.description }
func (sc *SimpleCommand) Usage() string               { return sc.usage }
func (sc *SimpleCommand) Aliases() []string           { return sc.aliases }
func (sc *SimpleCommand) Handle(ctx *Context) error   { return sc.handler(ctx) }
func (sc *SimpleCommand) RequiresGuild() bool         { return sc.guildOnly }
func (sc *SimpleCommand) Permission() PermissionLevel { return sc.permission }
