package core

import (
	"github.com/bwmarrin/discordgo"
)

// PermissionFunc reports whether a user holds level in a guild channel.
// Owner checks happen before it is consulted.
type PermissionFunc func(guildID, channelID, userID string, level PermissionLevel) (bool, error)

// SessionPermissions resolves permissions from the session state, falling
// back to REST when the member is not cached.
func SessionPermissions(session *discordgo.Session) PermissionFunc {
	return func(guildID, channelID, userID string, level PermissionLevel) (bool, error) {
		switch level {
		case PermissionNone:
			return true, nil
		case PermissionOwner:
			return false, nil
		}
		if guildID == "" {
			return false, nil
		}

		if guild, err := session.State.Guild(guildID); err == nil && guild.OwnerID == userID {
			return true, nil
		}
		perms, err := session.State.UserChannelPermissions(userID, channelID)
		if err != nil {
			perms, err = session.UserChannelPermissions(userID, channelID)
			if err != nil {
				return false, err
			}
		}
		return hasManageGuild(perms), nil
	}
}

func hasManageGuild(perms int64) bool {
	return perms&discordgo.PermissionAdministrator != 0 ||
		perms&discordgo.PermissionManageGuild != 0
}
