// Package store holds the record types shared by the durable storage layer
// and the in-memory caches built on top of it.
package store

import (
	"fmt"
	"time"
)

// CommandType identifies how a command was invoked.
type CommandType string

const (
	// CommandTypeMessage is a command parsed from message content.
	CommandTypeMessage CommandType = "message_content"
	CommandTypeSlash   CommandType = "slash"
)

// UsageEvent is one recorded command invocation.
type UsageEvent struct {
	Name   string
	Type   CommandType
	UserID uint64
	// GuildID is zero for direct messages.
	GuildID uint64
	At      time.Time
}

// Entity selects the core table a flag lives in.
type Entity int

const (
	Guilds Entity = iota
	Users
)

func (e Entity) String() string {
	switch e {
	case Guilds:
		return "guilds"
	case Users:
		return "users"
	default:
		return fmt.Sprintf("entity(%d)", int(e))
	}
}

// Flag selects the boolean column of a core table.
type Flag int

const (
	Blacklisted Flag = iota
	Premium
)

func (f Flag) String() string {
	switch f {
	case Blacklisted:
		return "blacklisted"
	case Premium:
		return "premium"
	default:
		return fmt.Sprintf("flag(%d)", int(f))
	}
}

// CommandCount is one row of aggregated command usage.
type CommandCount struct {
	Name  string
	Uses  int64
	Users int64
}
